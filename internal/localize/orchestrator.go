package localize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/localizer/common/id"
	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/internal/conversation"
	"basegraph.app/localizer/internal/model"
)

// Orchestrator is the entry point for one project: it builds the conversation
// once and delegates to the named strategy, falling back when the strategy's
// index is unavailable and the project names a fallback.
type Orchestrator struct {
	project  model.Project
	deps     Deps
	registry Registry
	builder  *conversation.Builder

	mu         sync.Mutex
	strategies map[string]Strategy
}

// NewOrchestrator resolves the project's strategy settings up front; an
// unregistered default or fallback strategy is a configuration error.
func NewOrchestrator(deps Deps, registry Registry) (*Orchestrator, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}

	p := deps.Project
	for _, name := range []string{p.Strategy, p.FallbackStrategy} {
		if name == "" {
			continue
		}
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("project %s: %w %q", p.Name, ErrUnknownStrategy, name)
		}
	}

	return &Orchestrator{
		project:    p,
		deps:       deps,
		registry:   registry,
		builder:    conversation.NewBuilder(p.AgentMarker),
		strategies: make(map[string]Strategy),
	}, nil
}

// Localize runs strategyName (the project default when empty) for issue.
// topN of 0 means the project's top_n_files.
func (o *Orchestrator) Localize(ctx context.Context, issue model.Issue, strategyName string, topN int) ([]model.Suggestion, error) {
	if strategyName == "" {
		strategyName = o.project.Strategy
	}
	if topN == 0 {
		topN = o.project.TopNFiles
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Project:  logger.Ptr(o.project.Name),
		RunID:    logger.Ptr(id.New()),
		IssueID:  logger.Ptr(issue.ID),
		Strategy: logger.Ptr(strategyName),
	})
	sc := logger.StartSpan(ctx, "localize.run")
	defer sc.End()
	ctx = sc.Context()

	strategy, err := o.Strategy(strategyName)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	conv, err := o.builder.Build(issue)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("building conversation: %w", err)
	}

	start := time.Now()
	suggestions, err := strategy.Localize(ctx, conv.Snapshot(), topN)
	if err != nil && errors.Is(err, ErrIndexUnavailable) && o.canFallBack(strategyName) {
		fallback := o.project.FallbackStrategy
		slog.WarnContext(ctx, "strategy index unavailable, falling back",
			"fallback", fallback,
			"error", err)

		fb, ferr := o.Strategy(fallback)
		if ferr != nil {
			sc.RecordError(ferr)
			return nil, ferr
		}
		ctx = logger.WithLogFields(ctx, logger.LogFields{Strategy: logger.Ptr(fallback)})
		suggestions, err = fb.Localize(ctx, conv.Snapshot(), topN)
	}
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "localization failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	sc.SetAttributes(
		attribute.Int("localizer.top_n", topN),
		attribute.Int("localizer.suggestions", len(suggestions)),
	)
	slog.InfoContext(ctx, "localization completed",
		"suggestions", len(suggestions),
		"top_n", topN,
		"duration_ms", time.Since(start).Milliseconds())

	return suggestions, nil
}

// Strategy returns the named strategy, constructing it on first use.
func (o *Orchestrator) Strategy(name string) (Strategy, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.strategies[name]; ok {
		return s, nil
	}

	construct, ok := o.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}
	s, err := construct(o.deps)
	if err != nil {
		return nil, fmt.Errorf("constructing %s strategy: %w", name, err)
	}
	o.strategies[name] = s
	return s, nil
}

func (o *Orchestrator) Project() model.Project {
	return o.project
}

func (o *Orchestrator) canFallBack(from string) bool {
	fb := o.project.FallbackStrategy
	return fb != "" && fb != from
}
