// Package modelconfig holds the per-provider, per-task model settings that
// decide which model serves a task and how large its prompt may be.
//
// The file is YAML or JSON:
//
//	providers:
//	  openai:
//	    default_model: gpt-4o-mini
//	    default_context_limit: 128000
//	    default_max_tokens: 512
//	    tasks:
//	      localize:
//	        model_name: gpt-4o
//	        context_limit: 128000
//	        max_tokens: 1024
package modelconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"basegraph.app/localizer/core/config"
)

type Task string

const (
	TaskGenerateCodeSummary    Task = "generate_code_summary"
	TaskGeneratePackageSummary Task = "generate_package_summary"
	TaskGenerateRepoSummary    Task = "generate_repo_summary"
	TaskLocalize               Task = "localize"
	TaskLocalizeFiles          Task = "localize_files"
	TaskGenerateSuggestions    Task = "generate_suggestions"
	TaskEmbedding              Task = "embedding"
)

var knownTasks = map[Task]bool{
	TaskGenerateCodeSummary:    true,
	TaskGeneratePackageSummary: true,
	TaskGenerateRepoSummary:    true,
	TaskLocalize:               true,
	TaskLocalizeFiles:          true,
	TaskGenerateSuggestions:    true,
	TaskEmbedding:              true,
}

const (
	DefaultMaxTokens    = 512
	DefaultContextLimit = 8192
)

// TaskConfig is the resolved configuration for one task under the active provider.
type TaskConfig struct {
	Task         Task
	Model        string
	ContextLimit int
	MaxTokens    int
}

type file struct {
	Providers map[string]providerEntry `yaml:"providers" json:"providers"`
}

type providerEntry struct {
	DefaultModel        string               `yaml:"default_model" json:"default_model"`
	DefaultContextLimit int                  `yaml:"default_context_limit" json:"default_context_limit"`
	DefaultMaxTokens    int                  `yaml:"default_max_tokens" json:"default_max_tokens"`
	Tasks               map[string]taskEntry `yaml:"tasks" json:"tasks"`
}

type taskEntry struct {
	ModelName    string `yaml:"model_name" json:"model_name"`
	ContextLimit int    `yaml:"context_limit" json:"context_limit"`
	MaxTokens    int    `yaml:"max_tokens" json:"max_tokens"`
}

// Registry resolves task configuration for a single provider. It is immutable
// after Load and safe for concurrent use.
type Registry struct {
	provider string
	tasks    map[Task]TaskConfig
}

// Load reads path (YAML, or JSON when the extension is .json) and resolves every
// known task for provider. Problems are reported as *config.Error.
func Load(path, provider string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.Error{Key: "LLM_CONFIG_FILE_PATH", Reason: fmt.Sprintf("cannot be read: %v", err)}
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format, provider)
}

// Parse resolves model configuration from raw bytes.
func Parse(data []byte, format, provider string) (*Registry, error) {
	var f file
	switch format {
	case "json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &config.Error{Key: "model config", Reason: fmt.Sprintf("is not valid JSON: %v", err)}
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, &config.Error{Key: "model config", Reason: fmt.Sprintf("is not valid YAML: %v", err)}
		}
	}

	entry, ok := f.Providers[provider]
	if !ok {
		available := make([]string, 0, len(f.Providers))
		for name := range f.Providers {
			available = append(available, name)
		}
		return nil, &config.Error{
			Key:    "provider " + provider,
			Reason: fmt.Sprintf("is not configured (available: %s)", strings.Join(available, ", ")),
		}
	}
	if entry.DefaultModel == "" {
		return nil, &config.Error{Key: "providers." + provider + ".default_model", Reason: "is required"}
	}

	for name := range entry.Tasks {
		if !knownTasks[Task(name)] {
			return nil, &config.Error{Key: "providers." + provider + ".tasks." + name, Reason: "is not a known task"}
		}
	}

	r := &Registry{provider: provider, tasks: make(map[Task]TaskConfig, len(knownTasks))}
	for task := range knownTasks {
		r.tasks[task] = resolve(entry, task)
	}

	// localize_files inherits the package-ranking settings unless set on its own.
	if _, ok := entry.Tasks[string(TaskLocalizeFiles)]; !ok {
		if _, ok := entry.Tasks[string(TaskLocalize)]; ok {
			tc := r.tasks[TaskLocalize]
			tc.Task = TaskLocalizeFiles
			r.tasks[TaskLocalizeFiles] = tc
		}
	}

	return r, nil
}

func resolve(entry providerEntry, task Task) TaskConfig {
	tc := TaskConfig{
		Task:         task,
		Model:        entry.DefaultModel,
		ContextLimit: entry.DefaultContextLimit,
		MaxTokens:    entry.DefaultMaxTokens,
	}
	if te, ok := entry.Tasks[string(task)]; ok {
		if te.ModelName != "" {
			tc.Model = te.ModelName
		}
		if te.ContextLimit > 0 {
			tc.ContextLimit = te.ContextLimit
		}
		if te.MaxTokens > 0 {
			tc.MaxTokens = te.MaxTokens
		}
	}
	if tc.ContextLimit <= 0 {
		tc.ContextLimit = DefaultContextLimit
	}
	if tc.MaxTokens <= 0 {
		tc.MaxTokens = DefaultMaxTokens
	}
	return tc
}

func (r *Registry) Provider() string {
	return r.provider
}

// Task returns the resolved configuration for task.
func (r *Registry) Task(task Task) (TaskConfig, error) {
	tc, ok := r.tasks[task]
	if !ok {
		return TaskConfig{}, &config.Error{Key: "task " + string(task), Reason: "is not configured"}
	}
	return tc, nil
}

// ContextLimit returns the maximum prompt size in tokens for task.
func (r *Registry) ContextLimit(task Task) (int, error) {
	tc, err := r.Task(task)
	if err != nil {
		return 0, err
	}
	return tc.ContextLimit, nil
}

// NewStatic builds a Registry from already-resolved task configs. Used by tests
// and by callers that configure models in code.
func NewStatic(provider string, tasks ...TaskConfig) *Registry {
	r := &Registry{provider: provider, tasks: make(map[Task]TaskConfig, len(tasks))}
	for _, tc := range tasks {
		r.tasks[tc.Task] = tc
	}
	return r
}
