package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basegraph.app/localizer/common/id"
	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/common/otel"
	"basegraph.app/localizer/core/config"
	"basegraph.app/localizer/internal/queue"
	"basegraph.app/localizer/internal/service"
	"basegraph.app/localizer/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize otel", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg, os.Stdout)

	slog.InfoContext(ctx, "localizer worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Redis.Group,
		"consumer_name", cfg.Redis.Consumer)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	services, err := service.Open(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	redisClient, err := services.Redis(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Redis.Stream,
		Group:        cfg.Redis.Group,
		Consumer:     cfg.Redis.Consumer,
		DLQStream:    cfg.Redis.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	processor := worker.NewProcessor(projectDeps(ctx, services)...)

	w := worker.New(consumer, processor, worker.Config{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewReclaimer(redisClient, worker.ReclaimerConfig{
		Stream:    cfg.Redis.Stream,
		Group:     cfg.Redis.Group,
		Consumer:  cfg.Redis.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.Handle)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running",
		"projects", len(services.ProjectNames()))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be processing)
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

// projectDeps wires every configured project to its cache, and to its vector
// collection when one is reachable.
func projectDeps(ctx context.Context, services *service.Services) []worker.ProjectDeps {
	names := services.ProjectNames()
	deps := make([]worker.ProjectDeps, 0, len(names))
	for _, name := range names {
		p, err := services.Project(name)
		if err != nil {
			continue
		}
		d := worker.ProjectDeps{Project: p, Cache: services.Cache(p)}
		if x, err := services.Indexer(p); err == nil {
			d.Vectors = x
		} else {
			slog.WarnContext(ctx, "vector sync disabled for project",
				"project", p.Name,
				"error", err)
		}
		deps = append(deps, d)
	}
	return deps
}

const banner = `
██╗      ██████╗  ██████╗ █████╗ ██╗     ██╗███████╗███████╗██████╗
██║     ██╔═══██╗██╔════╝██╔══██╗██║     ██║╚══███╔╝██╔════╝██╔══██╗
██║     ██║   ██║██║     ███████║██║     ██║  ███╔╝ █████╗  ██████╔╝
██║     ██║   ██║██║     ██╔══██║██║     ██║ ███╔╝  ██╔══╝  ██╔══██╗
███████╗╚██████╔╝╚██████╗██║  ██║███████╗██║███████╗███████╗██║  ██║
╚══════╝ ╚═════╝  ╚═════╝╚═╝  ╚═╝╚══════╝╚═╝╚══════╝╚══════╝╚═╝  ╚═╝
`
