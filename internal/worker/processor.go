package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/project"
	"basegraph.app/localizer/internal/queue"
)

var ErrUnknownProject = errors.New("unknown project")

// ProjectDeps are the collaborators one project's events touch. Vectors is
// nil when the project has no vector collection.
type ProjectDeps struct {
	Project model.Project
	Cache   Invalidator
	Vectors VectorSync
}

// Processor maps codebase events onto cache invalidations and vector writes.
// Every event is idempotent, so redelivery is safe.
type Processor struct {
	projects map[string]ProjectDeps
}

func NewProcessor(projects ...ProjectDeps) *Processor {
	m := make(map[string]ProjectDeps, len(projects))
	for _, p := range projects {
		m[p.Project.Name] = p
	}
	return &Processor{projects: m}
}

func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	e := msg.Event
	deps, ok := p.projects[e.Project]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProject, e.Project)
	}

	switch e.Type {
	case queue.EventPackageChanged:
		return p.invalidate(ctx, deps, e.Package)

	case queue.EventFileChanged, queue.EventFileRemoved:
		srcRel, inSrc := project.SrcRel(deps.Project, e.FilePath)
		if !inSrc {
			slog.DebugContext(ctx, "ignoring file outside the source folder", "file_path", e.FilePath)
			return nil
		}
		if err := p.invalidate(ctx, deps, project.PackageOf(deps.Project, srcRel)); err != nil {
			return err
		}
		if deps.Vectors == nil {
			return nil
		}
		if e.Type == queue.EventFileRemoved {
			return deps.Vectors.Remove(ctx, e.FilePath)
		}
		return deps.Vectors.Upsert(ctx, e.FilePath)

	default:
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
}

// invalidate drops pkg and every enclosing package, whose details embed it.
func (p *Processor) invalidate(ctx context.Context, deps ProjectDeps, pkg string) error {
	for _, affected := range AffectedPackages(deps.Project, pkg) {
		if err := deps.Cache.Invalidate(ctx, affected); err != nil {
			return fmt.Errorf("invalidating %s: %w", affected, err)
		}
	}
	return nil
}

// AffectedPackages lists pkg followed by its ancestors, nearest first. The
// root package covers only its own files, so it is never an ancestor.
func AffectedPackages(p model.Project, pkg string) []string {
	if pkg == project.RootPackage(p) {
		return []string{pkg}
	}
	out := []string{pkg}
	for i := strings.LastIndex(pkg, "."); i > 0; i = strings.LastIndex(pkg, ".") {
		pkg = pkg[:i]
		out = append(out, pkg)
	}
	return out
}
