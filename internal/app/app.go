package app

import (
	"context"
	"fmt"
	"log/slog"

	"NewsRefinery/internal/config"
	"NewsRefinery/internal/infrastructure/inference"
	"NewsRefinery/internal/infrastructure/scheduler"
	"NewsRefinery/internal/infrastructure/storage"
	"NewsRefinery/internal/infrastructure/telegram"
	"NewsRefinery/internal/logging"
	"NewsRefinery/internal/ports"
	"NewsRefinery/internal/usecase"
)

// Application wires configuration to stores, adapters, and use cases,
// and owns their lifecycle.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.PostgresStore
	scheduler *usecase.Scheduler
	reprocess *usecase.Reprocess
	closeDB   func() error
}

// New builds a runnable application instance. It opens the database,
// ensures the schema, and wires the full pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnLifetime())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	store := storage.NewPostgresStore(db)

	classifier := inference.NewHTTPClassifier(cfg.Classifier)
	embedder := inference.NewHTTPEmbedder(cfg.Embedder)

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	gate := usecase.NewGate(usecase.GateDeps{
		Store:           store,
		Classifier:      classifier,
		Logger:          baseLogger,
		Lookback:        cfg.Classification.Lookback(),
		ExcludedSources: cfg.Classification.ExcludedSources,
		CheckpointSize:  cfg.Classification.CheckpointSize,
	})

	clustering := usecase.NewClustering(usecase.ClusteringDeps{
		Store:            store,
		Embedder:         embedder,
		Logger:           baseLogger,
		Notifier:         notifier,
		Threshold:        cfg.Clustering.SimilarityThreshold,
		CentroidWindow:   cfg.Clustering.CentroidWindow(),
		Lookback:         cfg.Clustering.Lookback(),
		ExcludedSources:  cfg.Classification.ExcludedSources,
		FailureAlertRuns: cfg.Clustering.FailureAlertRuns,
	})

	pipeline := usecase.NewScheduler(usecase.SchedulerDeps{
		Driver:     scheduler.NewIntervalScheduler(cfg.Scheduler.Interval()),
		Gate:       gate,
		Clustering: clustering,
		Store:      store,
		Embedder:   embedder,
		Logger:     baseLogger,
		RunTimeout: cfg.Scheduler.RunTimeout(),
	})

	reprocess := usecase.NewReprocess(usecase.ReprocessDeps{
		Store:      store,
		Gate:       gate,
		Clustering: clustering,
		Embedder:   embedder,
		Logger:     baseLogger,
		Notifier:   notifier,
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		store:     store,
		scheduler: pipeline,
		reprocess: reprocess,
		closeDB:   db.Close,
	}, nil
}

// Run starts the recurring pipeline and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("pipeline started", "interval", a.cfg.Scheduler.Interval().String())

	<-ctx.Done()

	stopCtx := context.WithoutCancel(ctx)
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}
	return nil
}

// Reprocess rebuilds all clusters from scratch. Intended for the
// dedicated command, never for the recurring pipeline.
func (a *Application) Reprocess(ctx context.Context) (usecase.ReprocessReport, error) {
	return a.reprocess.Run(ctx)
}

// Close releases the database pool.
func (a *Application) Close() error {
	if a.closeDB == nil {
		return nil
	}
	return a.closeDB()
}
