package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"NewsRefinery/internal/app"
	"NewsRefinery/internal/config"
	"NewsRefinery/internal/logging"
)

func main() {
	confirm := flag.Bool("yes", false, "confirm wiping all cluster assignments and rebuilding them")
	flag.Parse()

	if !*confirm {
		fmt.Fprintln(os.Stderr, "reprocess wipes every cluster assignment and rebuilds from scratch; pass -yes to confirm")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	report, err := application.Reprocess(ctx)
	if err != nil {
		logger.Error("reprocess failed", "error", err)
		os.Exit(1)
	}

	logger.Info("reprocess finished",
		"classified", report.Gate.Classified,
		"buckets", report.Clustering.Buckets,
		"clusters", report.Clustering.NewClusters,
		"noise", report.Clustering.Noise)
}
