package worker

import (
	"context"

	"basegraph.app/localizer/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// MessageHandler applies one codebase event.
type MessageHandler interface {
	Process(ctx context.Context, msg queue.Message) error
}

// Invalidator is the part of packagecache.Cache the worker needs.
type Invalidator interface {
	Invalidate(ctx context.Context, pkg string) error
}

// VectorSync is the part of indexer.Indexer the worker needs.
type VectorSync interface {
	Upsert(ctx context.Context, repoRel string) error
	Remove(ctx context.Context, repoRel string) error
}
