// Package speech turns a recorded voice clip into message text. Capture is a
// capability: callers check Available before offering it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"labreport-bot/api/internal/fault"
)

// MaxClipBytes is the largest clip sent inline to the transcription service.
const MaxClipBytes = 20 << 20

var ErrUnavailable = errors.New("speech capture is not available")

type Clip struct {
	Data []byte
	MIME string
}

type Capturer interface {
	Available() bool
	CaptureOnce(ctx context.Context, clip Clip) (string, error)
}

// Unavailable is the Capturer used when speech is disabled.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) CaptureOnce(context.Context, Clip) (string, error) {
	return "", ErrUnavailable
}

// Transcriber is implemented by *gemini.Engine.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

type Recognizer struct {
	t Transcriber
}

func NewRecognizer(t Transcriber) *Recognizer { return &Recognizer{t: t} }

func (r *Recognizer) Available() bool { return r != nil && r.t != nil }

func (r *Recognizer) CaptureOnce(ctx context.Context, clip Clip) (string, error) {
	if !r.Available() {
		return "", ErrUnavailable
	}
	if len(clip.Data) == 0 {
		return "", &fault.InvalidInputError{Reason: "voice message is empty", Err: fault.ErrEmptyInput}
	}
	if len(clip.Data) > MaxClipBytes {
		return "", &fault.InvalidInputError{Reason: fmt.Sprintf("voice message is larger than %d MB", MaxClipBytes>>20)}
	}
	mime := clip.MIME
	if mime == "" {
		mime = "audio/ogg"
	}
	text, err := r.t.Transcribe(ctx, clip.Data, mime)
	if err != nil {
		return "", fmt.Errorf("speech: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &fault.InvalidInputError{Reason: "no speech was recognized", Err: fault.ErrEmptyMessage}
	}
	return text, nil
}

// New returns a Recognizer when enabled and t is set, else Unavailable.
func New(enabled bool, t Transcriber) Capturer {
	if !enabled || t == nil {
		return Unavailable{}
	}
	return NewRecognizer(t)
}
