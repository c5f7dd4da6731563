// Package pipeline runs an uploaded image through OCR and normalization into
// the session's draft, and sends the draft as a chat turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/fault"
	"labreport-bot/api/internal/observability"
	"labreport-bot/api/internal/ocr"
	"labreport-bot/api/internal/report"
	"labreport-bot/api/internal/store"
	"labreport-bot/api/internal/util"
)

const (
	StatusProcessing  = "Processing medical document..."
	StatusStructuring = "Structuring recognized text..."
	StatusDone        = "Document processed and formatted. You can review and edit the text before sending for analysis."
)

type Extractor interface {
	Extract(ctx context.Context, data []byte, language string) (*ocr.Extraction, error)
	EngineName() string
}

type Normalizer interface {
	Normalize(ctx context.Context, raw string) (*report.Report, error)
}

// ReportCache remembers OCR text per image; *store.ReportRepo implements it.
type ReportCache interface {
	FindByHash(ctx context.Context, imageHash, engine string, maxAge time.Duration) (*store.ReportRecord, error)
	Upsert(ctx context.Context, rec store.ReportRecord) error
}

type Orchestrator struct {
	chat     *chat.Manager
	ocr      Extractor
	norm     Normalizer
	language string
	owner    string
	cache    ReportCache
	cacheTTL time.Duration

	mu     sync.Mutex
	draft  string
	raw    string
	report *report.Report
}

type Option func(*Orchestrator)

func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if lang != "" {
			o.language = lang
		}
	}
}

// WithCache enables OCR text reuse for identical images within ttl.
func WithCache(c ReportCache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithOwner tags cache records with the session owner.
func WithOwner(owner string) Option {
	return func(o *Orchestrator) { o.owner = owner }
}

func New(m *chat.Manager, x Extractor, n Normalizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{chat: m, ocr: x, norm: n, language: "eng"}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Chat() *chat.Manager { return o.chat }

// ProcessImage extracts and structures data. The status message is kept up
// to date with progress; the result lands in the draft. Every failure except
// fault.ErrBusy is also recorded as a System message.
func (o *Orchestrator) ProcessImage(ctx context.Context, data []byte) (*report.Report, error) {
	release, err := o.chat.Begin(chat.OpExtract)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)
	log := observability.LoggerFromContext(ctx).With("engine", o.ocr.EngineName())

	hash := util.SHA256Hex(data)
	raw, cached := o.cachedRaw(ctx, hash)

	var ex *ocr.Extraction
	if !cached {
		ex, err = o.ocr.Extract(ctx, data, o.language)
		if err != nil {
			o.fail(err)
			return nil, err
		}
	}

	status := o.chat.AppendSystem(StatusProcessing)
	if cached {
		log.Info("ocr cache hit", "image_hash", hash)
		status = o.setStatus(status, "Processing: 100%")
	} else {
		for p := range ex.Progress() {
			status = o.setStatus(status, fmt.Sprintf("Processing: %d%%", p.Percent))
		}
		if raw, err = ex.Wait(); err != nil {
			log.Error("ocr failed", "err", err)
			o.fail(err)
			return nil, err
		}
	}

	o.mu.Lock()
	o.raw = raw
	o.mu.Unlock()

	rep, err := o.normalize(ctx, status)
	o.record(ctx, hash, raw, rep)
	return rep, err
}

// Renormalize retries structuring of the last recognized text.
func (o *Orchestrator) Renormalize(ctx context.Context) (*report.Report, error) {
	release, err := o.chat.Begin(chat.OpExtract)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	raw := o.raw
	o.mu.Unlock()
	if raw == "" {
		err := &fault.InvalidInputError{Reason: "there is no recognized text to structure yet", Err: fault.ErrEmptyInput}
		o.fail(err)
		return nil, err
	}
	status := o.chat.AppendSystem(StatusStructuring)
	return o.normalize(ctx, status)
}

func (o *Orchestrator) normalize(ctx context.Context, status chat.Message) (*report.Report, error) {
	o.mu.Lock()
	raw := o.raw
	o.mu.Unlock()

	rep, err := o.norm.Normalize(ctx, raw)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("normalization failed", "err", err)
		o.mu.Lock()
		o.draft = raw
		o.report = nil
		o.mu.Unlock()
		o.fail(err)
		return nil, err
	}

	o.mu.Lock()
	o.draft = rep.Text
	o.report = rep
	o.mu.Unlock()
	o.setStatus(status, StatusDone)
	return rep, nil
}

// setStatus rewrites the status message in place, or appends a new one when
// it is no longer the latest message. It returns the message now carrying
// the status.
func (o *Orchestrator) setStatus(status chat.Message, content string) chat.Message {
	msg, err := o.chat.UpdateSystem(status.ID, content)
	if err != nil {
		return o.chat.AppendSystem(content)
	}
	return msg
}

func (o *Orchestrator) fail(err error) {
	o.chat.AppendSystem(ErrorText(err))
}

// ErrorText is the System message written for a failed image.
func ErrorText(err error) string {
	return "Error: " + fault.UserMessage(err) + " Please try again with a clearer image."
}

func (o *Orchestrator) cachedRaw(ctx context.Context, hash string) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	rec, err := o.cache.FindByHash(ctx, hash, o.ocr.EngineName(), o.cacheTTL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			observability.LoggerFromContext(ctx).Warn("report cache lookup", "err", err)
		}
		return "", false
	}
	if rec.RawText == "" {
		return "", false
	}
	return rec.RawText, true
}

func (o *Orchestrator) record(ctx context.Context, hash, raw string, rep *report.Report) {
	if o.cache == nil || raw == "" {
		return
	}
	rec := store.ReportRecord{
		Owner:     o.owner,
		ImageHash: hash,
		Engine:    o.ocr.EngineName(),
		RawText:   raw,
	}
	if rep != nil {
		rec.ReportText = rep.Text
		rec.Normalized = true
		rec.Mismatches = len(rep.Mismatches)
	}
	if err := o.cache.Upsert(ctx, rec); err != nil {
		observability.LoggerFromContext(ctx).Warn("report cache save", "err", err)
	}
}

func (o *Orchestrator) Draft() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draft
}

func (o *Orchestrator) SetDraft(text string) {
	o.mu.Lock()
	o.draft = text
	o.mu.Unlock()
}

// LastReport is the last successfully structured report, or nil.
func (o *Orchestrator) LastReport() *report.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.report
}

// SubmitDraft sends the draft as a user turn and clears it once accepted.
func (o *Orchestrator) SubmitDraft(ctx context.Context) (chat.Reply, error) {
	o.mu.Lock()
	draft := o.draft
	o.mu.Unlock()

	reply, err := o.chat.Send(ctx, draft)
	if err != nil {
		return reply, err
	}
	o.mu.Lock()
	if o.draft == draft {
		o.draft = ""
	}
	o.mu.Unlock()
	return reply, nil
}
