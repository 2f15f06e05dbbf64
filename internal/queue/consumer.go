package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/localizer/common/logger"
)

// ConsumerConfig names the stream, group and DLQ one worker reads from.
type ConsumerConfig struct {
	Stream       string
	Group        string
	Consumer     string
	DLQStream    string
	BatchSize    int64
	Block        time.Duration
	MaxAttempts  int
	RequeueDelay time.Duration
}

// Message is one delivered codebase event. Attempt starts at 1 and grows with
// every requeue.
type Message struct {
	ID      string
	Event   Event
	Attempt int
	TraceID string
	Raw     redis.XMessage
}

type MessageProcessor func(ctx context.Context, msg Message) error

// RedisConsumer reads codebase events through a consumer group. Events that do
// not parse are moved to the DLQ as they are read.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}
	if err := c.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}
	return c, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// "0" rather than "$": a recreated group still sees events published while
	// no worker was running.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "localizer.queue.consumer"})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" only returns events never delivered to the group; the reclaimer
		// owns the pending ones.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, err := ParseMessage(raw)
			if err != nil {
				c.deadLetterMalformed(ctx, raw, err)
				continue
			}
			messages = append(messages, msg)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read codebase events",
			"count", len(messages),
			"stream", c.cfg.Stream)
	}
	return messages, nil
}

// deadLetterMalformed moves an event that can never be processed out of the
// stream, keeping its raw fields for inspection.
func (c *RedisConsumer) deadLetterMalformed(ctx context.Context, raw redis.XMessage, cause error) {
	slog.ErrorContext(ctx, "malformed codebase event",
		"error", cause,
		"raw_message_id", raw.ID)
	if err := c.SendDLQ(ctx, Message{ID: raw.ID, Raw: raw}, "malformed event: "+cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to dead-letter malformed event", "error", err)
	}
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue acks msg and publishes a copy with the next attempt number after
// RequeueDelay.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	if c.cfg.RequeueDelay > 0 {
		t := time.NewTimer(c.cfg.RequeueDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	attempt := msg.Attempt + 1
	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}
	// The delay may have ended by cancellation; the copy must still be written.
	if err := c.client.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "codebase event requeued",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: deadLetterValues(msg, errMsg),
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "codebase event sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	event := Event{
		Type:     EventType(parseOptionalString(msg.Values, "event_type")),
		Project:  parseOptionalString(msg.Values, "project"),
		Package:  parseOptionalString(msg.Values, "package"),
		FilePath: parseOptionalString(msg.Values, "file_path"),
		Attempt:  attempt,
	}
	if err := event.validate(); err != nil {
		return Message{}, err
	}

	traceID := parseOptionalString(msg.Values, "trace_id")
	if traceID != "" {
		event.TraceID = &traceID
	}

	return Message{
		ID:      msg.ID,
		Event:   event,
		Attempt: attempt,
		TraceID: traceID,
		Raw:     msg,
	}, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func eventValues(e Event, attempt int) map[string]any {
	values := map[string]any{
		"event_type": string(e.Type),
		"project":    e.Project,
		"attempt":    attempt,
	}
	if e.Package != "" {
		values["package"] = e.Package
	}
	if e.FilePath != "" {
		values["file_path"] = e.FilePath
	}
	if e.TraceID != nil && *e.TraceID != "" {
		values["trace_id"] = *e.TraceID
	}
	return values
}

func messageValues(msg Message, attempt int) map[string]any {
	values := eventValues(msg.Event, attempt)
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}

// deadLetterValues keeps the raw fields of msg, overlaid with the parsed event
// when there is one, plus the failure and the id in the source stream.
func deadLetterValues(msg Message, errMsg string) map[string]any {
	values := make(map[string]any, len(msg.Raw.Values)+3)
	maps.Copy(values, msg.Raw.Values)
	if msg.Event.Type != "" {
		maps.Copy(values, messageValues(msg, msg.Attempt))
	}
	values["error"] = errMsg
	values["source_id"] = msg.ID
	return values
}
