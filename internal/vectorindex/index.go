// Package vectorindex stores embedded documents in named collections, one per
// (project, vector type), and answers nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"basegraph.app/localizer/internal/model"
)

// ErrUnavailable means the collection is missing, empty or unreachable. It is
// distinct from a query that simply finds nothing relevant.
var ErrUnavailable = errors.New("vector index unavailable")

// Result is one hit. Score is a similarity in [0, 1], higher is closer.
type Result struct {
	Document model.VectorDocument
	Score    float64
}

type Index interface {
	Name() string
	// Upsert embeds doc.Content and stores it under doc.ID, replacing any previous version.
	Upsert(ctx context.Context, doc model.VectorDocument) error
	// Delete removes id; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Query returns at most k results ordered by descending Score.
	Query(ctx context.Context, text string, k int) ([]Result, error)
}

var collectionInvalidChars = regexp.MustCompile(`[^a-z0-9_]+`)

// CollectionName derives the collection for a project's vector type.
func CollectionName(project string, vt model.VectorType) string {
	p := collectionInvalidChars.ReplaceAllString(strings.ToLower(project), "_")
	return strings.Trim(p, "_") + "_" + string(vt)
}

// idLocks serializes writers of the same document id. Writers of different
// ids do not contend beyond the map lookup.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*idLock)
	}
	lk, ok := l.locks[id]
	if !ok {
		lk = &idLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
