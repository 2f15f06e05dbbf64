package store

import (
	"context"
	"errors"

	"basegraph.app/localizer/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// PackageDetailsStore is the durable backing of the package details cache.
// Entries are keyed by (project, package) and survive process restarts.
type PackageDetailsStore interface {
	Get(ctx context.Context, project, pkg string) (model.PackageDetails, error)
	// Put replaces any existing entry for (project, details.Package).
	Put(ctx context.Context, project string, details model.PackageDetails) error
	// Delete removes the entry; deleting a missing entry is not an error.
	Delete(ctx context.Context, project, pkg string) error
	ListPackages(ctx context.Context, project string) ([]string, error)
}
