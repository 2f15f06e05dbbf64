package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/internal/model"
)

// Memory is a process-local Index. Contents do not survive a restart.
type Memory struct {
	name     string
	embedder llm.Embedder
	writes   idLocks

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	doc model.VectorDocument
	vec []float32
}

func NewMemory(name string, embedder llm.Embedder) *Memory {
	return &Memory{
		name:     name,
		embedder: embedder,
		entries:  make(map[string]memoryEntry),
	}
}

func (m *Memory) Name() string {
	return m.name
}

func (m *Memory) Upsert(ctx context.Context, doc model.VectorDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	unlock := m.writes.lock(doc.ID)
	defer unlock()

	vecs, err := m.embedder.Embed(ctx, []string{doc.Content})
	if err != nil {
		return fmt.Errorf("embedding %s: %w", doc.ID, err)
	}

	m.mu.Lock()
	m.entries[doc.ID] = memoryEntry{doc: doc, vec: vecs[0]}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	unlock := m.writes.lock(id)
	defer unlock()

	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Query(ctx context.Context, text string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if m.Len() == 0 {
		return nil, fmt.Errorf("%w: collection %s is empty", ErrUnavailable, m.name)
	}

	vecs, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	query := vecs[0]

	m.mu.RLock()
	results := make([]Result, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, Result{Document: e.doc, Score: (cosine(query, e.vec) + 1) / 2})
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, c))
}
