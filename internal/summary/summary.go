// Package summary reads package summaries and assembles package details from
// the documentation generator's output.
package summary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"basegraph.app/localizer/internal/model"
)

const (
	semanticHeading = "## Semantic Summary"
	namesHeading    = "## Contained code structure names"
)

// Source lists the package summaries of one project.
type Source interface {
	List(ctx context.Context) ([]model.PackageSummary, error)
}

// DirSource reads one markdown summary per package from a directory.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// List returns the summaries ordered by package name.
func (s *DirSource) List(ctx context.Context) ([]model.PackageSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading summaries dir: %w", err)
	}

	var out []model.PackageSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading summary %s: %w", e.Name(), err)
		}
		out = append(out, Parse(strings.TrimSuffix(e.Name(), ".md"), string(data)))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Parse reads a summary document:
//
//	# <package>
//	## Semantic Summary
//	<text>
//	## Contained code structure names
//	`a`, `b.py`, `C`
//
// fallbackName is used when the document has no top-level heading. A document
// without the semantic section keeps its whole body as the summary.
func Parse(fallbackName, content string) model.PackageSummary {
	s := model.PackageSummary{Name: fallbackName}

	var (
		section string
		body    []string
		summary []string
		names   []string
		sawSem  bool
	)
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# "):
			if name := strings.TrimSpace(strings.TrimPrefix(trimmed, "# ")); name != "" {
				s.Name = name
			}
			continue
		case strings.EqualFold(trimmed, semanticHeading):
			section, sawSem = "summary", true
			continue
		case strings.EqualFold(trimmed, namesHeading):
			section = "names"
			continue
		case strings.HasPrefix(trimmed, "## "):
			section = ""
		}

		switch section {
		case "summary":
			summary = append(summary, line)
		case "names":
			names = append(names, line)
		default:
			body = append(body, line)
		}
	}

	if sawSem {
		s.Summary = strings.TrimSpace(strings.Join(summary, "\n"))
	} else {
		s.Summary = strings.TrimSpace(strings.Join(body, "\n"))
	}
	s.Names = parseNames(strings.Join(names, " "))
	return s
}

// Format renders s in the layout Parse reads.
func Format(s model.PackageSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n%s\n", s.Name, semanticHeading, s.Summary)
	if len(s.Names) > 0 {
		quoted := make([]string, len(s.Names))
		for i, n := range s.Names {
			quoted[i] = "`" + n + "`"
		}
		fmt.Fprintf(&b, "\n%s\n%s\n", namesHeading, strings.Join(quoted, ", "))
	}
	return b.String()
}

func parseNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "..."))
		name = strings.TrimSpace(strings.Trim(name, "`"))
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
