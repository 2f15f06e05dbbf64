// Package project loads per-project localization settings from YAML.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"basegraph.app/localizer/internal/model"
)

const (
	DefaultStrategy     = "hierarchical"
	DefaultTopNPackages = 3
	DefaultTopNFiles    = 5
	DefaultAgentMarker  = "<!-- SE Agent -->"

	SummarySourceDir    = "dir"
	SummarySourceArango = "arangodb"
)

// Default returns the settings a project gets when its file leaves them out.
func Default(name string) model.Project {
	return model.Project{
		Name:          name,
		Strategy:      DefaultStrategy,
		VectorType:    model.VectorTypeSemanticSummary,
		TopNPackages:  DefaultTopNPackages,
		TopNFiles:     DefaultTopNFiles,
		AgentMarker:   DefaultAgentMarker,
		SummarySource: SummarySourceDir,
	}
}

// Load reads one project file. Relative directories resolve against the file's directory.
func Load(path string) (model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Project{}, fmt.Errorf("reading project file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := Default(name)
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.Project{}, fmt.Errorf("parsing project file %s: %w", path, err)
	}

	base := filepath.Dir(path)
	p.RepoDir = resolve(base, p.RepoDir)
	p.SummariesDir = resolve(base, p.SummariesDir)
	p.DetailsDir = resolve(base, p.DetailsDir)

	if err := Validate(p); err != nil {
		return model.Project{}, fmt.Errorf("project %s: %w", p.Name, err)
	}
	return p, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, keyed by project name.
func LoadDir(dir string) (map[string]model.Project, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading projects dir: %w", err)
	}

	projects := make(map[string]model.Project)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := projects[p.Name]; dup {
			return nil, fmt.Errorf("project %s defined more than once", p.Name)
		}
		projects[p.Name] = p
	}
	return projects, nil
}

func Validate(p model.Project) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.TopNPackages < 1 {
		return fmt.Errorf("top_n_packages must be at least 1, got %d", p.TopNPackages)
	}
	if p.TopNFiles < 1 {
		return fmt.Errorf("top_n_files must be at least 1, got %d", p.TopNFiles)
	}
	if _, err := model.ParseVectorType(string(p.VectorType)); err != nil {
		return err
	}
	switch p.SummarySource {
	case SummarySourceDir, SummarySourceArango:
	default:
		return fmt.Errorf("unknown summary_source %q", p.SummarySource)
	}
	if p.FallbackStrategy != "" && p.FallbackStrategy == p.Strategy {
		return fmt.Errorf("fallback_strategy must differ from strategy")
	}
	return nil
}

func resolve(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}
