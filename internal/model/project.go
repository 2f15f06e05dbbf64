package model

// Project is the per-project configuration resolved once when an orchestrator
// is built. Zero values are filled by project.Load.
type Project struct {
	Name string `yaml:"name"`

	// RepoDir is the checkout root; SrcFolder is the source root relative to it.
	RepoDir   string `yaml:"repo_dir"`
	SrcFolder string `yaml:"src_folder"`

	// SummariesDir holds one markdown summary per package; DetailsDir mirrors the
	// source tree with one markdown description per file.
	SummariesDir  string `yaml:"summaries_dir"`
	DetailsDir    string `yaml:"details_dir"`
	SummarySource string `yaml:"summary_source"` // "dir" or "arangodb"

	Strategy         string     `yaml:"strategy"`
	FallbackStrategy string     `yaml:"fallback_strategy"`
	VectorType       VectorType `yaml:"vector_type"`
	TopNPackages     int        `yaml:"top_n_packages"`
	TopNFiles        int        `yaml:"top_n_files"`
	AgentMarker      string     `yaml:"agent_marker"`

	GitLabProject string `yaml:"gitlab_project"`
}
