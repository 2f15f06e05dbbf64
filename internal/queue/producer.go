package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/localizer/common/logger"
)

type Producer interface {
	Enqueue(ctx context.Context, e Event) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	attempt := e.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	if e.TraceID == nil {
		if traceID := logger.TraceID(ctx); traceID != "" {
			e.TraceID = &traceID
		}
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: eventValues(e, attempt),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued codebase event",
		"event_type", e.Type,
		"project", e.Project,
		"package", e.Package,
		"file_path", e.FilePath,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
