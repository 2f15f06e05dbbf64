package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/internal/queue"
)

type ReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
}

// StreamClaimer is the part of *redis.Client the reclaimer needs.
type StreamClaimer interface {
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

// Reclaimer takes over codebase events left pending by a worker that died
// between XREADGROUP and XACK.
type Reclaimer struct {
	client    StreamClaimer
	cfg       ReclaimerConfig
	acker     Consumer
	processor queue.MessageProcessor

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(client StreamClaimer, cfg ReclaimerConfig, acker Consumer, processor queue.MessageProcessor) *Reclaimer {
	return &Reclaimer{
		client:    client,
		cfg:       cfg,
		acker:     acker,
		processor: processor,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run reclaims every Interval until Stop is called or ctx ends.
func (r *Reclaimer) Run(ctx context.Context) {
	defer close(r.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "localizer.worker.reclaimer"})
	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			n, err := r.reclaimOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim cycle failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "reclaimed stale events", "count", n)
			}
		}
	}
}

func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

// reclaimOnce takes over events idle longer than MinIdle, at most BatchSize per
// cycle, and hands each to the processor.
func (r *Reclaimer) reclaimOnce(ctx context.Context) (int, error) {
	claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Start:    "0-0",
		Count:    r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xautoclaim: %w", err)
	}

	for _, raw := range claimed {
		r.reclaim(ctx, raw)
	}
	return len(claimed), nil
}

func (r *Reclaimer) reclaim(ctx context.Context, raw redis.XMessage) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(raw.ID)})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		if dlqErr := r.acker.SendDLQ(ctx, queue.Message{ID: raw.ID, Raw: raw}, "malformed event: "+err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to dead-letter reclaimed event", "error", dlqErr)
		}
		return
	}

	// The delivery that went stale counts as an attempt, so an event that
	// keeps killing workers still reaches the DLQ.
	msg.Attempt++
	msg.Event.Attempt = msg.Attempt

	slog.InfoContext(ctx, "processing reclaimed event",
		"event_type", msg.Event.Type,
		"attempt", msg.Attempt)
	if err := r.processor(ctx, msg); err != nil {
		slog.WarnContext(ctx, "reclaimed event failed", "error", err)
	}
}
