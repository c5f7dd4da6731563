// Package tesseract is the local OCR engine backed by the Tesseract library
// through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"labreport-bot/api/internal/ocr"
)

// Engine creates a fresh gosseract client per call; clients are not safe for
// concurrent use.
type Engine struct {
	clientFactory func() *gosseract.Client
}

func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs OCR on img. Tesseract has no progress callback, so progress
// is reported at stage boundaries. language accepts "eng" or "eng+rus".
func (e *Engine) Recognize(ctx context.Context, img ocr.Image, language string, onProgress func(float64)) (string, error) {
	report := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}

	c := e.clientFactory()
	defer c.Close()
	report(0)

	if err := c.SetImageFromBytes(img.Data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	report(0.1)

	if langs := splitLanguages(language); len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	report(0.2)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	report(0.95)
	return strings.TrimSpace(text), nil
}

func splitLanguages(language string) []string {
	var out []string
	for _, l := range strings.Split(language, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
