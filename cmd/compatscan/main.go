package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/seantiz/compatscan/internal/analyzer"
	"github.com/seantiz/compatscan/internal/api"
	"github.com/seantiz/compatscan/internal/compat"
	"github.com/seantiz/compatscan/internal/config"
	"github.com/seantiz/compatscan/internal/engine"
	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/store"
	"github.com/seantiz/compatscan/internal/suggest"
	"github.com/seantiz/compatscan/internal/workspace"
)

// drainTimeout bounds how long shutdown waits for in-flight jobs.
const drainTimeout = 30 * time.Second

func main() {
	loadDotEnv()
	if err := run(); err != nil {
		log.Fatalf("compatscan: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("compatscan: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_concurrent", cfg.MaxConcurrent,
	)

	var durable store.Store
	if cfg.PersistenceEnabled() {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			logger.Warn("durable store unavailable, jobs will not survive a restart",
				"db_path", cfg.DBPath, "error", err)
		} else {
			defer db.Close()
			durable = db
		}
	}
	jobs := store.NewJobStore(durable, logger)

	dataset, err := compat.LoadDataset(cfg.CompatDataDir)
	if err != nil {
		return fmt.Errorf("load compat data: %w", err)
	}
	resolver, err := compat.New(dataset, cfg.Browsers, cfg.CompatCacheSize)
	if err != nil {
		return fmt.Errorf("create compat resolver: %w", err)
	}

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Acquirer: workspace.NewAcquirer(workspace.Options{
			WorkDir:      cfg.WorkDir,
			AllowedRoots: cfg.AllowedLocalRoots,
		}, logger),
		Resolver:  resolver,
		Analyzers: analyzer.Default(),
		Walk: analyzer.WalkOptions{
			Extensions:   cfg.Extensions,
			MaxFileBytes: cfg.MaxFileBytes,
			Exclude:      append(append([]string{}, analyzer.DefaultExclude...), cfg.Exclude...),
		},
		Suggester: suggest.Rules{},
	}, logger)

	registry := engine.NewRegistry()
	registry.Register(model.KindScan, pipeline)

	sched := engine.NewScheduler(jobs, engine.NewEventBus(logger), registry, engine.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		Timeout:       cfg.JobTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := api.NewServer(api.Config{
		Addr:              cfg.ListenAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, sched, resolver, logger)

	runErr := srv.Run(ctx)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := sched.Shutdown(drainCtx); err != nil {
		logger.Warn("jobs still running at exit; they will be requeued on next start", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("compatscan: stopped", "jobs_seen", jobs.Stats().Total)
	return nil
}

// loadDotEnv loads the first .env file found in the working directory or
// one of its parents. Missing files are ignored.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for range 5 {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
