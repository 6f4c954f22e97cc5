package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskboard/internal/api"
	"github.com/opensource-finance/riskboard/internal/bus"
	"github.com/opensource-finance/riskboard/internal/cache"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/repository"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/rules"
	"github.com/opensource-finance/riskboard/internal/scoring"
	"github.com/opensource-finance/riskboard/internal/session"
	"github.com/opensource-finance/riskboard/internal/worker"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting riskboard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"scoring", cfg.Scoring.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	opts := session.OptionsFromConfig(cfg)
	scorer, err := newScorer(cfg.Scoring, opts.Classifier)
	if err != nil {
		return err
	}
	opts.Scorer = scorer
	opts.Cache = cacheImpl
	opts.Bus = busImpl

	sessions := session.NewManager(opts)
	defer sessions.Close()

	auditWorker := worker.NewWorker(busImpl, repo)
	if err := auditWorker.Start(); err != nil {
		return fmt.Errorf("failed to start audit worker: %w", err)
	}
	slog.Info("audit worker started", "topics", worker.Topics)

	srv := api.NewServer(cfg.Server, sessions, repo, cacheImpl, busImpl, api.HandlerOptions{
		Version:        Version,
		ScoringMode:    cfg.Scoring.Mode,
		FileField:      cfg.Scoring.FileField,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes,
		Tracing:        cfg.Tracing,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("riskboard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		_ = auditWorker.Stop()
		return err
	}
	slog.Info("shutting down...")

	if err := auditWorker.Stop(); err != nil {
		slog.Error("failed to stop audit worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("riskboard shutdown complete")
	return nil
}

func newScorer(cfg domain.ScoringConfig, c risk.Classifier) (scoring.Scorer, error) {
	switch cfg.Mode {
	case domain.ScoringExpression:
		engine, err := rules.NewEngine(cfg.Expression, c, cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("failed to compile scoring expression: %w", err)
		}
		slog.Info("expression scorer ready", "expression", engine.Expression(), "workers", cfg.Workers)
		return engine, nil
	case domain.ScoringRemote, "":
		slog.Info("remote scorer ready", "endpoint", cfg.Endpoint, "path", cfg.Path, "timeout", cfg.Timeout)
		return scoring.NewClient(cfg, c), nil
	default:
		return nil, fmt.Errorf("unsupported scoring mode: %s", cfg.Mode)
	}
}

func printBanner(cfg *domain.Config, version string) {
	out := os.Stdout
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  RISKBOARD")
	fmt.Fprintln(out, "  Fraud risk dashboards for transaction files.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Scoring:  %s\n", cfg.Scoring.Mode)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST   /analyses                 - Upload a CSV for scoring")
	fmt.Fprintln(out, "    POST   /analyses/demo            - Load mock data")
	fmt.Fprintln(out, "    GET    /analyses                 - Audit trail")
	fmt.Fprintln(out, "    GET    /analyses/{id}            - One audit record")
	fmt.Fprintln(out, "    GET    /analysis                 - Active analysis and charts")
	fmt.Fprintln(out, "    DELETE /analysis                 - Reset the dashboard")
	fmt.Fprintln(out, "    GET    /analysis/transactions    - Paged, filtered table")
	fmt.Fprintln(out, "    GET    /analysis/top/{level}     - Top rows of a bucket")
	fmt.Fprintln(out, "    GET    /analysis/progress        - Upload progress")
	fmt.Fprintln(out, "    GET    /health                   - Health check")
	fmt.Fprintln(out)
}
