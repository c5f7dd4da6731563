package ocr

import (
	"context"
	"math"
	"sync"

	"labreport-bot/api/internal/fault"
)

// Engine is an external recognition backend. onProgress receives a fraction
// in [0, 1] and may be nil.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img Image, language string, onProgress func(float64)) (string, error)
}

// Progress is a recognition progress notification.
type Progress struct {
	Percent int
}

type Extractor struct {
	engine    Engine
	maxPixels int
}

type Option func(*Extractor)

// WithMaxPixels downscales images whose area exceeds n before recognition.
func WithMaxPixels(n int) Option {
	return func(x *Extractor) { x.maxPixels = n }
}

func NewExtractor(engine Engine, opts ...Option) *Extractor {
	x := &Extractor{engine: engine, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Extractor) EngineName() string { return x.engine.Name() }

// Extract validates data and starts recognition in the background. Validation
// failures are returned immediately as *fault.InvalidInputError and no
// recognition is attempted.
func (x *Extractor) Extract(ctx context.Context, data []byte, language string) (*Extraction, error) {
	img, err := Prepare(data, x.maxPixels)
	if err != nil {
		return nil, err
	}
	ex := &Extraction{
		progress: make(chan Progress, 101),
		done:     make(chan struct{}),
		last:     -1,
	}
	go ex.run(ctx, x.engine, img, language)
	return ex, nil
}

// Extraction is one running recognition. Progress events are strictly
// increasing and the channel is closed when recognition ends; it can be
// consumed once. Wait blocks until the final result is known.
type Extraction struct {
	progress chan Progress
	done     chan struct{}

	mu     sync.Mutex
	last   int
	closed bool

	text string
	err  error
}

func (e *Extraction) Progress() <-chan Progress { return e.progress }

func (e *Extraction) Wait() (string, error) {
	<-e.done
	return e.text, e.err
}

func (e *Extraction) run(ctx context.Context, engine Engine, img Image, language string) {
	text, err := engine.Recognize(ctx, img, language, e.report)
	if err != nil {
		e.err = &fault.ExtractionError{Engine: engine.Name(), Err: err}
	} else {
		e.text = text
		e.report(1)
	}

	e.mu.Lock()
	e.closed = true
	close(e.progress)
	e.mu.Unlock()
	close(e.done)
}

// report forwards a fraction as a whole percentage. The channel holds 101
// slots, one per possible value, so the send never blocks.
func (e *Extraction) report(fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	p := int(math.Round(fraction * 100))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || p <= e.last {
		return
	}
	e.last = p
	e.progress <- Progress{Percent: p}
}
