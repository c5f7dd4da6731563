package speech

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labreport-bot/api/internal/fault"
)

type transcriberFunc func(ctx context.Context, audio []byte, mime string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	return f(ctx, audio, mime)
}

func TestNewSelectsCapability(t *testing.T) {
	tr := transcriberFunc(func(context.Context, []byte, string) (string, error) { return "", nil })
	assert.False(t, New(false, tr).Available())
	assert.False(t, New(true, nil).Available())
	assert.True(t, New(true, tr).Available())
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.CaptureOnce(context.Background(), Clip{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCaptureOnce(t *testing.T) {
	var gotMIME string
	r := NewRecognizer(transcriberFunc(func(_ context.Context, audio []byte, mime string) (string, error) {
		gotMIME = mime
		return "  what is a normal glucose level?\n", nil
	}))

	text, err := r.CaptureOnce(context.Background(), Clip{Data: []byte("ogg")})
	require.NoError(t, err)
	assert.Equal(t, "what is a normal glucose level?", text)
	assert.Equal(t, "audio/ogg", gotMIME)
}

func TestCaptureOnceErrors(t *testing.T) {
	r := NewRecognizer(transcriberFunc(func(context.Context, []byte, string) (string, error) {
		return "", errors.New("unsupported codec")
	}))
	_, err := r.CaptureOnce(context.Background(), Clip{Data: []byte("x"), MIME: "audio/mpeg"})
	assert.ErrorContains(t, err, "unsupported codec")

	_, err = r.CaptureOnce(context.Background(), Clip{})
	var inv *fault.InvalidInputError
	assert.True(t, errors.As(err, &inv))

	silent := NewRecognizer(transcriberFunc(func(context.Context, []byte, string) (string, error) { return " ", nil }))
	_, err = silent.CaptureOnce(context.Background(), Clip{Data: []byte("x")})
	assert.ErrorIs(t, err, fault.ErrEmptyMessage)
}
