package localize_test

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/common/tokens"
	"basegraph.app/localizer/core/config/modelconfig"
	"basegraph.app/localizer/internal/budget"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/packagecache"
)

type modelCall struct {
	Task modelconfig.Task
	Req  llm.Request
}

type fakeModels struct {
	mu    sync.Mutex
	calls []modelCall
	fn    func(ctx context.Context, task modelconfig.Task, req llm.Request) (*llm.Response, error)
}

func (f *fakeModels) Call(ctx context.Context, task modelconfig.Task, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, modelCall{Task: task, Req: req})
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, task, req)
	}
	return &llm.Response{Content: "{}"}, nil
}

func (f *fakeModels) Calls() []modelCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]modelCall(nil), f.calls...)
}

// systemPrompt returns the system message of the first call for task.
func (f *fakeModels) systemPrompt(task modelconfig.Task) string {
	for _, c := range f.Calls() {
		if c.Task == task && len(c.Req.Messages) > 0 {
			return c.Req.Messages[0].Content
		}
	}
	return ""
}

type staticSource struct {
	summaries []model.PackageSummary
	err       error
}

func (s *staticSource) List(context.Context) ([]model.PackageSummary, error) {
	return s.summaries, s.err
}

// mockCache builds through the supplied BuildFunc and records the packages asked for.
type mockCache struct {
	mu    sync.Mutex
	asked []string
}

func (c *mockCache) GetOrBuild(ctx context.Context, pkg string, build packagecache.BuildFunc) (model.PackageDetails, error) {
	c.mu.Lock()
	c.asked = append(c.asked, pkg)
	c.mu.Unlock()

	text, err := build(ctx, pkg)
	if err != nil {
		return model.PackageDetails{}, &packagecache.BuildError{Package: pkg, Err: err}
	}
	return model.PackageDetails{Package: pkg, Text: text, TokenCount: tokens.Heuristic{}.Estimate(text, "")}, nil
}

func detailsFor(files map[string][]string) packagecache.BuildFunc {
	return func(_ context.Context, pkg string) (string, error) {
		names, ok := files[pkg]
		if !ok {
			return "", fmt.Errorf("no details for %s", pkg)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", pkg)
		for _, n := range names {
			fmt.Fprintf(&b, "## %s\n\nDescribes %s.\n\n", n, n)
		}
		return b.String(), nil
	}
}

func newPlanner(localizeLimit, filesLimit int) *budget.Planner {
	registry := modelconfig.NewStatic("test",
		modelconfig.TaskConfig{Task: modelconfig.TaskLocalize, Model: "test-model", ContextLimit: localizeLimit, MaxTokens: 256},
		modelconfig.TaskConfig{Task: modelconfig.TaskLocalizeFiles, Model: "test-model", ContextLimit: filesLimit, MaxTokens: 256},
	)
	return budget.NewPlanner(registry, tokens.Heuristic{})
}

func jsonResponse(v any) *llm.Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &llm.Response{Content: string(data)}
}

var wordRe = regexp.MustCompile(`[a-z]+`)

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

// keywordRanker stands in for the model: packages are ranked by how many of
// their summary words appear in the conversation.
func keywordRanker(_ context.Context, task modelconfig.Task, req llm.Request) (*llm.Response, error) {
	var convo strings.Builder
	for _, m := range req.Messages[1:] {
		convo.WriteString(m.Content)
		convo.WriteString("\n")
	}
	issueWords := words(convo.String())

	system := req.Messages[0].Content
	switch task {
	case modelconfig.TaskLocalize:
		start := strings.Index(system, "[PACKAGE-SUMMARIES-START]")
		end := strings.Index(system, "[PACKAGE-SUMMARIES-END]")
		section := system[start+len("[PACKAGE-SUMMARIES-START]") : end]

		type scored struct {
			name  string
			score int
		}
		var pkgs []scored
		for _, line := range strings.Split(section, "\n") {
			if strings.HasPrefix(line, "# ") {
				pkgs = append(pkgs, scored{name: strings.TrimPrefix(line, "# ")})
				continue
			}
			if len(pkgs) == 0 {
				continue
			}
			for w := range words(line) {
				if issueWords[w] {
					pkgs[len(pkgs)-1].score++
				}
			}
		}
		sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].score > pkgs[j].score })

		names := make([]string, len(pkgs))
		for i, p := range pkgs {
			names[i] = p.name
		}
		return jsonResponse(map[string]any{"relevant_packages": names}), nil

	default:
		var suggestions []map[string]any
		pkg := ""
		for _, line := range strings.Split(system, "\n") {
			switch {
			case strings.HasPrefix(line, "# "):
				pkg = strings.TrimPrefix(line, "# ")
			case strings.HasPrefix(line, "## ") && pkg != "":
				conf := 0.1
				if len(suggestions) == 0 {
					conf = 0.9
				}
				suggestions = append(suggestions, map[string]any{
					"package":    pkg,
					"file":       strings.TrimPrefix(line, "## "),
					"confidence": conf,
					"reason":     "keyword overlap",
				})
			}
		}
		return jsonResponse(map[string]any{"file_localization_suggestions": suggestions}), nil
	}
}
