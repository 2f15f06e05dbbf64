// Package indexer keeps a project's vector collection in step with its
// source or details tree.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/project"
	"basegraph.app/localizer/internal/summary"
	"basegraph.app/localizer/internal/vectorindex"
)

// ErrOutsideSource marks a path that is not under the project's src folder.
var ErrOutsideSource = errors.New("path is outside the source folder")

// DefaultExtensions are the source files indexed for the code vector type.
var DefaultExtensions = []string{".py", ".go", ".js", ".ts", ".java", ".rb", ".rs"}

type Indexer struct {
	project    model.Project
	index      vectorindex.Index
	details    *summary.DirDetailsBuilder
	extensions map[string]bool
}

func New(p model.Project, index vectorindex.Index, extensions ...string) *Indexer {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Indexer{
		project:    p,
		index:      index,
		details:    summary.NewDirDetailsBuilder(p),
		extensions: exts,
	}
}

// Stats summarizes one bootstrap run.
type Stats struct {
	Indexed int
	Skipped int
	Failed  int
}

// Document builds the vector document for a repository-relative source file.
// Its content is the raw source or the file's semantic description, depending
// on the project's vector type. ok is false when there is nothing to index.
func (x *Indexer) Document(repoRel string) (doc model.VectorDocument, ok bool, err error) {
	srcRel, inSrc := project.SrcRel(x.project, repoRel)
	if !inSrc {
		return model.VectorDocument{}, false, fmt.Errorf("%s: %w", repoRel, ErrOutsideSource)
	}
	id := path.Clean(filepath.ToSlash(repoRel))

	var content string
	switch x.project.VectorType {
	case model.VectorTypeCode:
		if !x.extensions[strings.ToLower(path.Ext(id))] {
			return model.VectorDocument{}, false, nil
		}
		data, err := os.ReadFile(filepath.Join(x.project.RepoDir, filepath.FromSlash(id)))
		if err != nil {
			return model.VectorDocument{}, false, fmt.Errorf("reading %s: %w", id, err)
		}
		content = string(data)
	default:
		content, err = x.details.File(srcRel)
		if err != nil {
			return model.VectorDocument{}, false, err
		}
	}

	if strings.TrimSpace(content) == "" {
		return model.VectorDocument{}, false, nil
	}

	return model.VectorDocument{
		ID:      id,
		Content: content,
		Metadata: model.VectorMetadata{
			FilePath:   id,
			Package:    project.PackageOf(x.project, srcRel),
			VectorType: x.project.VectorType,
		},
	}, true, nil
}

// Upsert indexes one file. A file with nothing to index is removed instead so
// an emptied file does not keep matching queries.
func (x *Indexer) Upsert(ctx context.Context, repoRel string) error {
	doc, ok, err := x.Document(repoRel)
	if err != nil {
		return err
	}
	if !ok {
		return x.Remove(ctx, repoRel)
	}
	if err := x.index.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("upserting %s into %s: %w", doc.ID, x.index.Name(), err)
	}
	return nil
}

func (x *Indexer) Remove(ctx context.Context, repoRel string) error {
	id := path.Clean(filepath.ToSlash(repoRel))
	if err := x.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, x.index.Name(), err)
	}
	return nil
}

// Run walks the source tree (code) or the details tree (semantic summaries)
// and upserts one document per file. A file that fails is logged and counted;
// the walk continues.
func (x *Indexer) Run(ctx context.Context) (Stats, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Project:   logger.Ptr(x.project.Name),
		Component: "localizer.indexer",
	})
	sc := logger.StartSpan(ctx, "indexer.run")
	defer sc.End()
	ctx = sc.Context()

	files, err := x.files()
	if err != nil {
		sc.RecordError(err)
		return Stats{}, err
	}

	start := time.Now()
	var stats Stats
	for _, repoRel := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		doc, ok, err := x.Document(repoRel)
		if err != nil {
			stats.Failed++
			slog.WarnContext(ctx, "skipping file", "file_path", repoRel, "error", err)
			continue
		}
		if !ok {
			stats.Skipped++
			continue
		}
		if err := x.index.Upsert(ctx, doc); err != nil {
			stats.Failed++
			slog.WarnContext(ctx, "failed to index file", "file_path", repoRel, "error", err)
			continue
		}
		stats.Indexed++
	}

	slog.InfoContext(ctx, "vector index built",
		"collection", x.index.Name(),
		"vector_type", x.project.VectorType,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	return stats, nil
}

// files lists repository-relative source paths in walk order.
func (x *Indexer) files() ([]string, error) {
	src := filepath.ToSlash(filepath.Clean(x.project.SrcFolder))
	if src == "." {
		src = ""
	}

	root := filepath.Join(x.project.RepoDir, filepath.FromSlash(src))
	suffix := ""
	if x.project.VectorType != model.VectorTypeCode {
		root = x.project.DetailsDir
		suffix = ".md"
	}

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if suffix != "" && !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(filepath.ToSlash(rel), suffix)
		files = append(files, path.Join(src, rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}
