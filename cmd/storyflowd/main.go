// Command storyflowd runs the story review service: the HTTP API, the
// durable job queue workers, and the workflow engine in one process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/config"
	"github.com/davechogan/agile-stories-v2/engine"
	"github.com/davechogan/agile-stories-v2/fanout"
	"github.com/davechogan/agile-stories-v2/httpapi"
	"github.com/davechogan/agile-stories-v2/river"
	"github.com/davechogan/agile-stories-v2/token"
	"github.com/davechogan/agile-stories-v2/version/pgstore"
)

func main() {
	ctx := context.Background()
	logger := &slogAdapter{slog.New(slog.NewJSONHandler(os.Stdout, nil))}

	configPath := flag.String("config", "", "Path to the config directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("configuration loaded", "addr", cfg.HTTP.Addr)

	pool, err := initDatabase(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer pool.Close()

	store := pgstore.New(pool)
	if err := pgstore.Migrate(ctx, pool); err != nil {
		log.Fatalf("Version store migration failed: %v", err)
	}
	logger.Info("database connected")

	apiKey, err := config.EnvSecret{APIKeyVar: cfg.OpenAI.APIKeyEnv}.GetAPIKey()
	if err != nil {
		log.Fatalf("Secret resolution failed: %v", err)
	}

	registry := analyzer.DefaultRegistry()
	var analyzerOpts []analyzer.OpenAIOption
	if cfg.OpenAI.BaseURL != "" {
		analyzerOpts = append(analyzerOpts, analyzer.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.Timeout > 0 {
		analyzerOpts = append(analyzerOpts, analyzer.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout}))
	}
	llm := analyzer.NewOpenAIClient(registry, apiKey, analyzerOpts...)

	tokens := token.NewRegistry(store)
	estimator := fanout.NewCoordinator(store, llm,
		fanout.WithMaxConcurrency(cfg.Workflow.MaxConcurrency))

	eng, err := engine.New(engine.Config{
		Store:         store,
		Tokens:        tokens,
		Analyzer:      llm,
		Agents:        registry,
		Estimator:     estimator,
		Confirmations: confirmationStages(cfg.Workflow.Confirmations),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Engine initialization failed: %v", err)
	}

	runner, err := river.NewRunner(river.Config{
		Pool:    pool,
		Engine:  eng,
		Logger:  logger,
		Workers: cfg.Queue.Workers,
	})
	if err != nil {
		log.Fatalf("Runner initialization failed: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		log.Fatalf("Runner start failed: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	httpapi.NewServer(runner, store, eng).Register(e)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTP.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Error("runner stop error", "error", err)
		}
		logger.Info("stopped gracefully")
	}
}

func initDatabase(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// confirmationStages maps configured stage names to engine stages.
// nil means "not configured", which keeps the engine's default.
func confirmationStages(names []string) []engine.Stage {
	if names == nil {
		return nil
	}
	stages := make([]engine.Stage, 0, len(names))
	for _, name := range names {
		stages = append(stages, engine.Stage(name))
	}
	return stages
}

// slogAdapter adapts slog to the key-value logger interfaces the
// engine and runner expect.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, keysAndValues ...any) { a.l.Debug(msg, keysAndValues...) }
func (a *slogAdapter) Info(msg string, keysAndValues ...any)  { a.l.Info(msg, keysAndValues...) }
func (a *slogAdapter) Warn(msg string, keysAndValues ...any)  { a.l.Warn(msg, keysAndValues...) }
func (a *slogAdapter) Error(msg string, keysAndValues ...any) { a.l.Error(msg, keysAndValues...) }
