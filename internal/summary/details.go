package summary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/project"
)

// DirDetailsBuilder assembles package details from a tree that mirrors the
// source tree with one markdown description per file (foo.py -> foo.py.md).
type DirDetailsBuilder struct {
	project model.Project
}

func NewDirDetailsBuilder(p model.Project) *DirDetailsBuilder {
	return &DirDetailsBuilder{project: p}
}

// Build produces one hierarchical document for pkg: a heading per package,
// a sub-heading per file, and every heading inside a file description pushed
// below the file's own heading. Sub-packages follow their parent one level
// deeper. The root package covers only the files directly in the src folder.
// It has the packagecache.BuildFunc signature.
func (b *DirDetailsBuilder) Build(ctx context.Context, pkg string) (string, error) {
	rel, recursive := project.PackageDir(b.project, pkg)
	dir := filepath.Join(b.project.DetailsDir, filepath.FromSlash(rel))

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("package %s has no details: %w", pkg, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("package %s details path %s is not a directory", pkg, dir)
	}

	var doc strings.Builder
	if err := b.writePackage(ctx, &doc, dir, 1, recursive); err != nil {
		return "", err
	}
	return strings.TrimRight(doc.String(), "\n") + "\n", nil
}

// File returns the description of one source file given relative to the src folder.
func (b *DirDetailsBuilder) File(srcRel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.project.DetailsDir, filepath.FromSlash(srcRel)+".md"))
	if err != nil {
		return "", fmt.Errorf("reading details for %s: %w", srcRel, err)
	}
	return string(data), nil
}

func (b *DirDetailsBuilder) writePackage(ctx context.Context, doc *strings.Builder, dir string, level int, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading details dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	prefix := strings.Repeat("#", level)
	fmt.Fprintf(doc, "%s %s\n\n", prefix, b.packageName(dir))

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading details file %s: %w", e.Name(), err)
		}
		fmt.Fprintf(doc, "%s# %s\n\n", prefix, strings.TrimSuffix(e.Name(), ".md"))
		doc.WriteString(ShiftHeaders(string(data), level+1))
		doc.WriteString("\n\n")
	}

	if !recursive {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := b.writePackage(ctx, doc, filepath.Join(dir, e.Name()), level+1, true); err != nil {
			return err
		}
	}
	return nil
}

func (b *DirDetailsBuilder) packageName(dir string) string {
	rel, err := filepath.Rel(b.project.DetailsDir, dir)
	if err != nil || rel == "." {
		return project.RootPackage(b.project)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// ShiftHeaders prefixes every markdown heading outside fenced code with n
// extra '#' characters.
func ShiftHeaders(content string, n int) string {
	if n <= 0 {
		return content
	}
	extra := strings.Repeat("#", n)

	lines := strings.Split(content, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(line, "#") {
			lines[i] = extra + line
		}
	}
	return strings.Join(lines, "\n")
}
