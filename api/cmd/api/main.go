package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4/middleware"

	"labreport-bot/api/internal/app"
	"labreport-bot/api/internal/config"
	"labreport-bot/api/internal/httpapi"
	"labreport-bot/api/internal/httpserver"
	"labreport-bot/api/internal/observability"
)

func main() {
	cfg := config.Load()
	observability.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()
	go a.RunJanitor(ctx, time.Hour)

	hub := httpapi.NewHub()
	go hub.Run(ctx)
	pipe := a.NewPipeline(httpapi.Owner, hub.Observe)

	e := httpserver.New(a.Ping)
	e.Use(middleware.CORS())
	httpapi.NewHandler(pipe, a.Prefs, hub).RegisterRoutes(e)

	addr := "0.0.0.0:" + cfg.Port
	go func() {
		log.Printf("api listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
