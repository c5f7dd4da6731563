// Package app assembles the session pipeline from configuration. Both
// binaries share it; they differ only in the outer surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/config"
	"labreport-bot/api/internal/llm/gemini"
	"labreport-bot/api/internal/observability"
	"labreport-bot/api/internal/ocr"
	"labreport-bot/api/internal/ocr/tesseract"
	"labreport-bot/api/internal/ocr/yandex"
	"labreport-bot/api/internal/pipeline"
	"labreport-bot/api/internal/prefs"
	"labreport-bot/api/internal/report"
	"labreport-bot/api/internal/speech"
	"labreport-bot/api/internal/store"
	"labreport-bot/api/internal/util"
)

type App struct {
	Cfg *config.Config

	// DB is nil when no store is configured.
	DB      *sql.DB
	Reports *store.ReportRepo
	Prefs   prefs.Store
	Speech  speech.Capturer

	extractor  *ocr.Extractor
	normalizer *report.Normalizer
	chatLLM    *gemini.Engine
	preamble   string
}

// New opens the store (if any) and builds the engines.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Prefs: store.NewMemoryPrefs()}

	if cfg.StoreDriver != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := store.Open(openCtx, cfg.StoreDriver, cfg.StoreDSN())
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		if cfg.StoreDriver == store.DriverPostgres {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(10)
			db.SetConnMaxLifetime(time.Hour)
		}
		a.DB = db
		a.Reports = store.NewReportRepo(db)
		a.Prefs = store.NewPrefRepo(db)
		observability.Logger().Info("store connected", "driver", cfg.StoreDriver, "dsn", config.SafeDSNSummary(cfg.StoreDSN()))
	}

	var engine ocr.Engine
	switch cfg.OCREngine {
	case "yandex":
		engine = yandex.New(cfg.YCOAuthToken, cfg.YCFolderID)
	default:
		engine = tesseract.New()
	}
	a.extractor = ocr.NewExtractor(engine, ocr.WithMaxPixels(cfg.OCRMaxPixels))

	g := gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
	a.normalizer = report.NewNormalizer(g.WithTemperature(0))
	a.chatLLM = g
	a.preamble = util.LoadPrompt("chat", chat.Preamble)
	a.Speech = speech.New(cfg.SpeechEnabled, g)
	observability.Logger().Info("engines ready", "ocr", engine.Name(), "llm", g.Name(), "model", g.GetModel())
	return a, nil
}

// NewPipeline builds one session for owner. observer may be nil.
func (a *App) NewPipeline(owner string, observer chat.Observer) *pipeline.Orchestrator {
	copts := []chat.Option{chat.WithHistoryTurns(a.Cfg.ChatHistoryTurns), chat.WithPreamble(a.preamble)}
	if observer != nil {
		copts = append(copts, chat.WithObserver(observer))
	}
	m := chat.NewManager(a.chatLLM, copts...)

	popts := []pipeline.Option{pipeline.WithLanguage(a.Cfg.OCRLanguage), pipeline.WithOwner(owner)}
	if a.Reports != nil {
		popts = append(popts, pipeline.WithCache(a.Reports, a.Cfg.ReportCacheTTL))
	}
	return pipeline.New(m, a.extractor, a.normalizer, popts...)
}

// Ping checks the store; without one it always succeeds.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

// RunJanitor purges cached reports past the TTL every interval until ctx is
// done.
func (a *App) RunJanitor(ctx context.Context, interval time.Duration) {
	if a.Reports == nil || a.Cfg.ReportCacheTTL <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.Reports.PurgeOlderThan(ctx, a.Cfg.ReportCacheTTL)
			if err != nil {
				observability.Logger().Warn("report purge", "err", err)
				continue
			}
			if n > 0 {
				observability.Logger().Info("report purge", "deleted", n)
			}
		}
	}
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
