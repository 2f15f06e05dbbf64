package localize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/project"
	"basegraph.app/localizer/internal/vectorindex"
)

const vectorReason = "vector similarity"

// Vector ranks files by embedding similarity between the conversation and the
// project's vector collection. It makes no model calls besides the embedding.
type Vector struct {
	project model.Project
	index   vectorindex.Index
}

func NewVector(d Deps) (*Vector, error) {
	return &Vector{project: d.Project, index: d.Index}, nil
}

func (v *Vector) Name() string {
	return StrategyVector
}

func (v *Vector) Localize(ctx context.Context, conv model.Conversation, topN int) ([]model.Suggestion, error) {
	if err := validateRequest(conv, topN); err != nil {
		return nil, err
	}
	if v.index == nil {
		return nil, fmt.Errorf("project %s has no %s collection: %w", v.project.Name, v.project.VectorType, ErrIndexUnavailable)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Strategy: logger.Ptr(StrategyVector)})
	sc := logger.StartSpan(ctx, "localize.vector")
	defer sc.End()
	ctx = sc.Context()

	start := time.Now()
	results, err := v.index.Query(ctx, QueryText(conv), topN)
	if err != nil {
		sc.RecordError(err)
		if errors.Is(err, ErrIndexUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("querying %s: %w", v.index.Name(), err)
	}

	suggestions := make([]model.Suggestion, 0, len(results))
	for _, r := range results {
		filePath := r.Document.Metadata.FilePath
		if filePath == "" {
			filePath = r.Document.ID
		}
		file := path.Base(filePath)
		if filePath == "" || file == "." || file == "/" {
			continue
		}

		pkg := r.Document.Metadata.Package
		if pkg == "" {
			if rel, ok := project.SrcRel(v.project, filePath); ok {
				pkg = project.PackageOf(v.project, rel)
			}
		}

		suggestions = append(suggestions, model.Suggestion{
			Package:    pkg,
			File:       file,
			FilePath:   filePath,
			Confidence: clampConfidence(r.Score),
			Reason:     vectorReason,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > topN {
		suggestions = suggestions[:topN]
	}

	slog.InfoContext(ctx, "vector search completed",
		"collection", v.index.Name(),
		"results", len(results),
		"suggestions", len(suggestions),
		"duration_ms", time.Since(start).Milliseconds())

	return suggestions, nil
}

// QueryText flattens the conversation into one search query. The title leads
// so it carries weight even when the thread is long.
func QueryText(conv model.Conversation) string {
	parts := make([]string, 0, len(conv.Messages)+1)
	if t := strings.TrimSpace(conv.Title); t != "" {
		parts = append(parts, t)
	}
	for _, m := range conv.Messages {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

var _ Strategy = (*Vector)(nil)
