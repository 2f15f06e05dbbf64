package summary

import (
	"context"
	"fmt"

	"basegraph.app/localizer/common/arangodb"
	"basegraph.app/localizer/internal/model"
)

// ArangoSource reads and publishes the summaries of one project in ArangoDB.
type ArangoSource struct {
	client  arangodb.Client
	project string
}

func NewArangoSource(client arangodb.Client, project string) *ArangoSource {
	return &ArangoSource{client: client, project: project}
}

func (s *ArangoSource) List(ctx context.Context) ([]model.PackageSummary, error) {
	docs, err := s.client.ListSummaries(ctx, s.project)
	if err != nil {
		return nil, fmt.Errorf("listing summaries for %s: %w", s.project, err)
	}

	out := make([]model.PackageSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.PackageSummary{
			Name:    d.Package,
			Summary: d.Summary,
			Names:   d.Names,
		})
	}
	return out, nil
}

// Publish replaces the stored summaries of the given packages.
func (s *ArangoSource) Publish(ctx context.Context, summaries []model.PackageSummary) error {
	docs := make([]arangodb.SummaryDocument, 0, len(summaries))
	for _, sum := range summaries {
		docs = append(docs, arangodb.SummaryDocument{
			Project: s.project,
			Package: sum.Name,
			Summary: sum.Summary,
			Names:   sum.Names,
		})
	}
	if err := s.client.UpsertSummaries(ctx, docs); err != nil {
		return fmt.Errorf("publishing summaries for %s: %w", s.project, err)
	}
	return nil
}

func (s *ArangoSource) Remove(ctx context.Context, pkg string) error {
	if err := s.client.DeleteSummary(ctx, s.project, pkg); err != nil {
		return fmt.Errorf("removing summary %s/%s: %w", s.project, pkg, err)
	}
	return nil
}
