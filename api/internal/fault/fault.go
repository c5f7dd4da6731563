// Package fault holds the error taxonomy shared by the pipeline stages and the
// conversation manager, plus the conversion of those errors into text that can
// be shown to the user as a chat message.
package fault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrBusy is returned when an operation is attempted while another one is
	// still in flight for the same session.
	ErrBusy = errors.New("session is busy")

	ErrEmptyMessage     = errors.New("message is empty")
	ErrEmptyInput       = errors.New("input text is empty")
	ErrUnsupportedImage = errors.New("file is not a supported image")
)

// InvalidInputError reports input rejected before any external call was made.
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil && e.Reason != "" {
		return "invalid input: " + e.Reason + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return "invalid input: " + e.Err.Error()
	}
	return "invalid input: " + e.Reason
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// ExtractionError wraps a failure of the OCR engine.
type ExtractionError struct {
	Engine string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %v", e.Engine, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NormalizationError wraps a failure while structuring OCR text.
type NormalizationError struct {
	Err error
}

func (e *NormalizationError) Error() string { return "normalization failed: " + e.Err.Error() }

func (e *NormalizationError) Unwrap() error { return e.Err }

// ChatError wraps a failure of the text service during a conversational turn.
type ChatError struct {
	Err error
}

func (e *ChatError) Error() string { return "chat turn failed: " + e.Err.Error() }

func (e *ChatError) Unwrap() error { return e.Err }

// RangeDefinitionError reports a reference range whose lower bound exceeds
// its upper bound.
type RangeDefinitionError struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (e *RangeDefinitionError) Error() string {
	return fmt.Sprintf("malformed reference range: min %s > max %s", e.Min, e.Max)
}

// UserMessage renders err as a sentence suitable for a System chat message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		inv  *InvalidInputError
		ext  *ExtractionError
		norm *NormalizationError
		chat *ChatError
		rng  *RangeDefinitionError
	)
	switch {
	case errors.Is(err, ErrBusy):
		return "Still working on the previous request."
	case errors.Is(err, ErrUnsupportedImage):
		return "Please upload an image file."
	case errors.Is(err, ErrEmptyMessage):
		return "Message is empty."
	case errors.As(err, &inv):
		return capitalize(inv.Reason) + "."
	case errors.As(err, &ext):
		return "Failed to extract text from image: " + rootCause(ext.Err) + "."
	case errors.As(err, &norm):
		if errors.Is(norm.Err, ErrEmptyInput) {
			return "No text was recognized in the image."
		}
		return "Failed to structure the recognized text: " + rootCause(norm.Err) + "."
	case errors.As(err, &chat):
		return "The assistant could not answer: " + rootCause(chat.Err) + "."
	case errors.As(err, &rng):
		return fmt.Sprintf("Reference range %s - %s is not valid.", rng.Min, rng.Max)
	default:
		return rootCause(err) + "."
	}
}

func rootCause(err error) string {
	return strings.TrimSuffix(strings.TrimSpace(err.Error()), ".")
}

func capitalize(s string) string {
	if s == "" {
		return "Invalid input"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
