package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/internal/model"
)

const embeddingField = "embedding"

// Typesense stores one collection per Index in a Typesense server. The
// collection is created on first upsert, sized to the embedder's output.
type Typesense struct {
	client   *typesense.Client
	name     string
	embedder llm.Embedder
	writes   idLocks

	ensureMu sync.Mutex
	ensured  bool
}

type TypesenseConfig struct {
	URL    string
	APIKey string
}

// NewTypesenseClient builds a client without contacting the server.
func NewTypesenseClient(cfg TypesenseConfig) *typesense.Client {
	return typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
	)
}

func NewTypesense(client *typesense.Client, name string, embedder llm.Embedder) *Typesense {
	return &Typesense{client: client, name: name, embedder: embedder}
}

func (t *Typesense) Name() string {
	return t.name
}

func (t *Typesense) ensureCollection(ctx context.Context, dims int) error {
	t.ensureMu.Lock()
	defer t.ensureMu.Unlock()
	if t.ensured {
		return nil
	}

	_, err := t.client.Collection(t.name).Retrieve(ctx)
	if err == nil {
		t.ensured = true
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("retrieving collection %s: %w", t.name, err)
	}

	schema := &api.CollectionSchema{
		Name: t.name,
		Fields: []api.Field{
			{Name: "content", Type: "string"},
			{Name: "filepath", Type: "string"},
			{Name: "package", Type: "string", Facet: pointer.True()},
			{Name: "vector_type", Type: "string", Facet: pointer.True()},
			{Name: embeddingField, Type: "float[]", NumDim: pointer.Int(dims)},
		},
	}
	if _, err := t.client.Collections().Create(ctx, schema); err != nil {
		var httpErr *typesense.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Status != http.StatusConflict {
			return fmt.Errorf("creating collection %s: %w", t.name, err)
		}
	}

	slog.InfoContext(ctx, "vector collection created", "collection", t.name, "dims", dims)
	t.ensured = true
	return nil
}

func (t *Typesense) Upsert(ctx context.Context, doc model.VectorDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	unlock := t.writes.lock(doc.ID)
	defer unlock()

	vecs, err := t.embedder.Embed(ctx, []string{doc.Content})
	if err != nil {
		return fmt.Errorf("embedding %s: %w", doc.ID, err)
	}
	if err := t.ensureCollection(ctx, len(vecs[0])); err != nil {
		return err
	}

	record := map[string]any{
		"id":           doc.ID,
		"content":      doc.Content,
		"filepath":     doc.Metadata.FilePath,
		"package":      doc.Metadata.Package,
		"vector_type":  string(doc.Metadata.VectorType),
		embeddingField: vecs[0],
	}
	if _, err := t.client.Collection(t.name).Documents().Upsert(ctx, record, &api.DocumentIndexParameters{}); err != nil {
		return fmt.Errorf("upserting %s into %s: %w", doc.ID, t.name, err)
	}
	return nil
}

func (t *Typesense) Delete(ctx context.Context, id string) error {
	unlock := t.writes.lock(id)
	defer unlock()

	if _, err := t.client.Collection(t.name).Document(id).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting %s from %s: %w", id, t.name, err)
	}
	return nil
}

func (t *Typesense) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}

	vecs, err := t.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// multi_search takes the vector in the POST body; a search GET caps its
	// query string far below a dense embedding.
	res, err := t.client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, api.MultiSearchSearchesParameter{
		Searches: []api.MultiSearchCollectionParameters{{
			Collection:    pointer.String(t.name),
			Q:             pointer.String("*"),
			VectorQuery:   pointer.String(vectorQuery(vecs[0], k)),
			ExcludeFields: pointer.String(embeddingField),
			PerPage:       pointer.Int(k),
		}},
	})
	if err != nil {
		return nil, t.searchError(err)
	}
	if len(res.Results) == 0 {
		return nil, fmt.Errorf("searching %s: no result in multi_search response", t.name)
	}
	item := res.Results[0]
	if item.Code != nil && *item.Code != http.StatusOK {
		body := ""
		if item.Error != nil {
			body = *item.Error
		}
		return nil, t.searchError(&typesense.HTTPError{Status: int(*item.Code), Body: []byte(body)})
	}
	if item.Hits == nil || len(*item.Hits) == 0 {
		return nil, fmt.Errorf("%w: collection %s is empty", ErrUnavailable, t.name)
	}

	results := make([]Result, 0, len(*item.Hits))
	for _, hit := range *item.Hits {
		if hit.Document == nil {
			continue
		}
		score := 0.0
		if hit.VectorDistance != nil {
			// cosine distance is in [0, 2]
			score = clamp01(1 - float64(*hit.VectorDistance)/2)
		}
		results = append(results, Result{Document: documentFromHit(*hit.Document), Score: score})
	}
	return results, nil
}

// searchError keeps client rejections other than 404 as ordinary errors;
// anything else means the index is unavailable.
func (t *Typesense) searchError(err error) error {
	var httpErr *typesense.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status != http.StatusNotFound && httpErr.Status < http.StatusInternalServerError {
		return fmt.Errorf("searching %s: %w", t.name, err)
	}
	return fmt.Errorf("%w: searching %s: %v", ErrUnavailable, t.name, err)
}

func vectorQuery(vec []float32, k int) string {
	var b strings.Builder
	b.WriteString(embeddingField)
	b.WriteString(":([")
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', 6, 32))
	}
	b.WriteString("], k:")
	b.WriteString(strconv.Itoa(k))
	b.WriteString(")")
	return b.String()
}

func documentFromHit(doc map[string]any) model.VectorDocument {
	str := func(key string) string {
		s, _ := doc[key].(string)
		return s
	}
	return model.VectorDocument{
		ID:      str("id"),
		Content: str("content"),
		Metadata: model.VectorMetadata{
			FilePath:   str("filepath"),
			Package:    str("package"),
			VectorType: model.VectorType(str("vector_type")),
		},
	}
}

func isNotFound(err error) bool {
	var httpErr *typesense.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
