// TaskChat is a stateless chat service for managing a personal task list:
// OpenRouter for the model, SQLite for conversations and tasks, and a small
// registry of task tools the model drives through a bounded agent loop.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskchat/taskchat/internal/agent"
	"github.com/taskchat/taskchat/internal/auth"
	"github.com/taskchat/taskchat/internal/config"
	"github.com/taskchat/taskchat/internal/middleware"
	"github.com/taskchat/taskchat/internal/openrouter"
	"github.com/taskchat/taskchat/internal/server"
	"github.com/taskchat/taskchat/internal/store"
	"github.com/taskchat/taskchat/internal/tools"
)

func main() {
	cfg := config.New("")
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("TASKCHAT_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	logs := store.NewLogStore(db)
	registry, err := tools.NewTaskRegistry(db)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	loop := &agent.Loop{
		Client:     openrouter.NewClient(cfg.OpenRouterAPIKey, cfg.Model),
		Dispatcher: middleware.NewTruncatingDispatcher(registry, cfg.ToolOutputMaxRunes),
		MaxTurns:   cfg.MaxTurns,
		Logs:       logs,
	}

	srv := &server.Server{
		Store:        db,
		Loop:         loop,
		Verifier:     &auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)},
		HistoryLimit: cfg.HistoryLimit,
		Logs:         logs,
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[MAIN] listening on %s (model %s)", cfg.ListenAddr, cfg.Model)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("[MAIN] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
