// Package packagecache memoizes aggregated package documentation in a durable
// store. At most one build per package runs at a time; concurrent callers for
// the same package share its result.
package packagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/store"
)

// BuildFunc produces the aggregated documentation text for pkg.
type BuildFunc func(ctx context.Context, pkg string) (string, error)

// DefaultBuildTimeout bounds a shared build once it no longer follows any
// caller's context.
const DefaultBuildTimeout = 5 * time.Minute

// TokenCounter measures text at write time.
type TokenCounter func(text string) int

// BuildError is returned when a BuildFunc fails. The cache is left unchanged.
type BuildError struct {
	Package string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building details for package %s: %v", e.Package, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

type Cache struct {
	project string
	store   store.PackageDetailsStore
	count   TokenCounter
	now     func() time.Time
	timeout time.Duration

	group singleflight.Group

	mu   sync.Mutex
	keys map[string]*keyState
}

// keyState serializes persisting a build against invalidating the same package.
// gen is bumped on every Invalidate so a build that started earlier never
// overwrites the invalidation.
type keyState struct {
	mu  sync.Mutex
	gen uint64
}

type Option func(*Cache)

// WithBuildTimeout overrides DefaultBuildTimeout.
func WithBuildTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(project string, st store.PackageDetailsStore, count TokenCounter, opts ...Option) *Cache {
	c := &Cache{
		project: project,
		store:   st,
		count:   count,
		now:     time.Now,
		timeout: DefaultBuildTimeout,
		keys:    make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) state(pkg string) *keyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keys[pkg]
	if !ok {
		ks = &keyState{}
		c.keys[pkg] = ks
	}
	return ks
}

// GetOrBuild returns the stored details for pkg, building and storing them when
// absent. Build failures are returned as *BuildError. The build runs detached
// from ctx: a cancelled caller returns ctx.Err() while callers sharing the
// build still get its result.
func (c *Cache) GetOrBuild(ctx context.Context, pkg string, build BuildFunc) (model.PackageDetails, error) {
	d, err := c.store.Get(ctx, c.project, pkg)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.PackageDetails{}, fmt.Errorf("reading cached details for %s: %w", pkg, err)
	}

	ch := c.group.DoChan(pkg, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.build(bctx, pkg, build)
	})

	select {
	case <-ctx.Done():
		return model.PackageDetails{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.PackageDetails{}, res.Err
		}
		if res.Shared {
			slog.DebugContext(ctx, "package details build shared", "package", pkg)
		}
		return res.Val.(model.PackageDetails), nil
	}
}

func (c *Cache) build(ctx context.Context, pkg string, build BuildFunc) (model.PackageDetails, error) {
	ks := c.state(pkg)
	ks.mu.Lock()
	gen := ks.gen
	ks.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Package:   logger.Ptr(pkg),
		Component: "localizer.packagecache",
	})
	sc := logger.StartSpan(ctx, "packagecache.build")
	defer sc.End()
	ctx = sc.Context()

	// A concurrent flight may have finished between the miss and this flight starting.
	if d, err := c.store.Get(ctx, c.project, pkg); err == nil {
		return d, nil
	}

	start := time.Now()
	text, err := build(ctx, pkg)
	if err != nil {
		sc.RecordError(err)
		slog.WarnContext(ctx, "package details build failed", "error", err)
		return model.PackageDetails{}, &BuildError{Package: pkg, Err: err}
	}

	d := model.PackageDetails{
		Package:    pkg,
		Text:       text,
		TokenCount: c.count(text),
		CachedAt:   c.now().UTC(),
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.gen != gen {
		slog.InfoContext(ctx, "package invalidated during build, result not stored")
		return d, nil
	}
	if err := c.store.Put(ctx, c.project, d); err != nil {
		// The caller still gets the details; the next call rebuilds.
		slog.ErrorContext(ctx, "storing package details failed", "error", err)
		return d, nil
	}

	slog.InfoContext(ctx, "package details cached",
		"token_count", d.TokenCount,
		"duration_ms", time.Since(start).Milliseconds())
	return d, nil
}

// Invalidate drops the stored entry for pkg. A build already in flight finishes
// for its callers but its result is not stored.
func (c *Cache) Invalidate(ctx context.Context, pkg string) error {
	ks := c.state(pkg)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.gen++
	c.group.Forget(pkg)
	if err := c.store.Delete(ctx, c.project, pkg); err != nil {
		return fmt.Errorf("invalidating package %s: %w", pkg, err)
	}
	slog.InfoContext(ctx, "package details invalidated", "package", pkg)
	return nil
}

// ListKeys returns the packages that currently have stored details.
func (c *Cache) ListKeys(ctx context.Context) ([]string, error) {
	return c.store.ListPackages(ctx, c.project)
}
