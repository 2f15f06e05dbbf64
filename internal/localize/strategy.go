// Package localize ranks the source files an issue most likely concerns.
package localize

import (
	"context"
	"fmt"
	"math"
	"time"

	"basegraph.app/localizer/core/config"
	"basegraph.app/localizer/internal/budget"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/packagecache"
	"basegraph.app/localizer/internal/summary"
	"basegraph.app/localizer/internal/vectorindex"
)

const (
	StrategyHierarchical = "hierarchical"
	StrategyVector       = "semantic_vector_search"
)

// Strategy turns a conversation into at most topN suggestions ordered by
// descending confidence. Implementations are safe for concurrent use.
type Strategy interface {
	Name() string
	Localize(ctx context.Context, conv model.Conversation, topN int) ([]model.Suggestion, error)
}

// DetailsCache is the part of packagecache.Cache strategies read through.
type DetailsCache interface {
	GetOrBuild(ctx context.Context, pkg string, build packagecache.BuildFunc) (model.PackageDetails, error)
}

// Deps are the project-scoped collaborators strategies are built from. Each
// constructor uses only the fields it needs and makes no network calls.
type Deps struct {
	Project   model.Project
	Summaries summary.Source
	Cache     DetailsCache
	Build     packagecache.BuildFunc
	Planner   *budget.Planner
	Models    ModelCaller
	// Index is the collection for Project.VectorType. Nil means the project
	// has no vector index; the vector strategy then reports ErrIndexUnavailable.
	Index       vectorindex.Index
	CallTimeout time.Duration
}

// Constructor builds one strategy variant.
type Constructor func(deps Deps) (Strategy, error)

// Registry maps strategy names to constructors.
type Registry map[string]Constructor

// DefaultRegistry holds the built-in strategies.
func DefaultRegistry() Registry {
	return Registry{
		StrategyHierarchical: func(d Deps) (Strategy, error) { return NewHierarchical(d) },
		StrategyVector:       func(d Deps) (Strategy, error) { return NewVector(d) },
	}
}

func validateRequest(conv model.Conversation, topN int) error {
	if topN < 1 {
		return fmt.Errorf("%w: top_n must be at least 1, got %d", ErrInvalidRequest, topN)
	}
	if len(conv.Messages) == 0 {
		return fmt.Errorf("%w: conversation has no messages", ErrInvalidRequest)
	}
	return nil
}

func requireDep(strategy, name string, missing bool) error {
	if missing {
		return &config.Error{Key: strategy + " strategy", Reason: name + " is required"}
	}
	return nil
}

func clampConfidence(f float64) float64 {
	switch {
	case math.IsNaN(f), f < model.MinConfidence:
		return model.MinConfidence
	case f > model.MaxConfidence:
		return model.MaxConfidence
	default:
		return f
	}
}
