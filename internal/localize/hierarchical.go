package localize

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/common/logger"
	"basegraph.app/localizer/core/config/modelconfig"
	"basegraph.app/localizer/internal/budget"
	"basegraph.app/localizer/internal/model"
	"basegraph.app/localizer/internal/packagecache"
	"basegraph.app/localizer/internal/project"
	"basegraph.app/localizer/internal/summary"
)

// maxParallelBuilds bounds concurrent package details builds per call.
const maxParallelBuilds = 4

type RelevantPackages struct {
	RelevantPackages []string `json:"relevant_packages" jsonschema_description:"Package names most relevant to the issue, most relevant first"`
}

type FileSuggestions struct {
	FileLocalizationSuggestions []FileSuggestion `json:"file_localization_suggestions" jsonschema_description:"Files most relevant to the issue"`
}

type FileSuggestion struct {
	Package    string     `json:"package" jsonschema_description:"Package containing the file"`
	File       string     `json:"file" jsonschema_description:"File name as shown in the package details"`
	Confidence Confidence `json:"confidence" jsonschema_description:"Relevance confidence 0.0-1.0"`
	Reason     string     `json:"reason" jsonschema_description:"Why the file is relevant"`
}

// Confidence decodes leniently: numbers, numeric strings and percentages are
// accepted and clamped to [0, 1]; anything else becomes the minimum.
type Confidence float64

func (c *Confidence) UnmarshalJSON(data []byte) error {
	*c = Confidence(parseConfidence(data))
	return nil
}

func parseConfidence(data []byte) float64 {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		return clampConfidence(f)
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return model.MinConfidence
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return model.MinConfidence
	}
	if percent {
		f /= 100
	}
	return clampConfidence(f)
}

var (
	relevantPackagesSchema = llm.GenerateSchema[RelevantPackages]()
	fileSuggestionsSchema  = llm.GenerateSchema[FileSuggestions]()
)

// Hierarchical ranks packages from their summaries, then ranks files from the
// details of the best packages that fit the context budget.
type Hierarchical struct {
	project   model.Project
	summaries summary.Source
	cache     DetailsCache
	build     packagecache.BuildFunc
	planner   *budget.Planner
	models    ModelCaller
	timeout   time.Duration
}

func NewHierarchical(d Deps) (*Hierarchical, error) {
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"summary source", d.Summaries == nil},
		{"details cache", d.Cache == nil},
		{"details builder", d.Build == nil},
		{"budget planner", d.Planner == nil},
		{"model caller", d.Models == nil},
	} {
		if err := requireDep(StrategyHierarchical, dep.name, dep.missing); err != nil {
			return nil, err
		}
	}

	return &Hierarchical{
		project:   d.Project,
		summaries: d.Summaries,
		cache:     d.Cache,
		build:     d.Build,
		planner:   d.Planner,
		models:    d.Models,
		timeout:   d.CallTimeout,
	}, nil
}

func (h *Hierarchical) Name() string {
	return StrategyHierarchical
}

func (h *Hierarchical) Localize(ctx context.Context, conv model.Conversation, topN int) ([]model.Suggestion, error) {
	if err := validateRequest(conv, topN); err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Strategy: logger.Ptr(StrategyHierarchical)})
	sc := logger.StartSpan(ctx, "localize.hierarchical")
	defer sc.End()
	ctx = sc.Context()

	summaries, err := h.summaries.List(ctx)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("listing package summaries: %w", err)
	}
	if len(summaries) == 0 {
		slog.WarnContext(ctx, "project has no package summaries")
		return nil, nil
	}

	ranked, err := h.rankPackages(ctx, conv, summaries)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	if len(ranked) > h.project.TopNPackages && h.project.TopNPackages > 0 {
		ranked = ranked[:h.project.TopNPackages]
	}

	candidates, err := h.packageDetails(ctx, ranked)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}

	suggestions, err := h.rankFiles(ctx, conv, candidates, topN)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	return suggestions, nil
}

// rankPackages returns known package names, most relevant first.
func (h *Hierarchical) rankPackages(ctx context.Context, conv model.Conversation, summaries []model.PackageSummary) ([]string, error) {
	known := make([]string, len(summaries))
	for i, s := range summaries {
		known[i] = s.Name
	}
	if len(known) == 1 {
		slog.DebugContext(ctx, "single package, skipping package ranking", "package", known[0])
		return known, nil
	}

	candidates := make([]budget.Candidate, 0, len(summaries))
	for _, s := range summaries {
		text := formatSummary(s)
		n, err := h.planner.Estimate(modelconfig.TaskLocalize, text)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, budget.Candidate{Key: s.Name, Text: text, Tokens: n})
	}

	req := llm.Request{
		Messages:    withSystem(fmt.Sprintf(packageRankingPrompt, ""), conv),
		SchemaName:  "relevant_packages",
		Schema:      relevantPackagesSchema,
		Temperature: llm.Temp(0),
	}
	prompt, err := budgetPrompt(req, summarySeparator)
	if err != nil {
		return nil, err
	}
	plan, err := h.planner.Plan(ctx, modelconfig.TaskLocalize, prompt, candidates)
	if err != nil {
		return nil, err
	}
	if len(plan.Selected) == 0 {
		return nil, fmt.Errorf("%w: package ranking prompt needs %d tokens before summaries, limit %d",
			ErrBudgetExhausted, plan.TemplateTokens, plan.Limit)
	}

	texts := make([]string, len(plan.Selected))
	for i, c := range plan.Selected {
		texts[i] = c.Text
	}

	req.Messages = withSystem(fmt.Sprintf(packageRankingPrompt, strings.Join(texts, summarySeparator)), conv)
	start := time.Now()
	resp, err := callModel(ctx, h.models, modelconfig.TaskLocalize, req, h.timeout)
	if err != nil {
		return nil, fmt.Errorf("package ranking call: %w", err)
	}

	var out RelevantPackages
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return nil, &LocalizationError{Strategy: StrategyHierarchical, Stage: StagePackageRanking, Err: err}
	}

	mapped := MapPackages(out.RelevantPackages, known)
	slog.InfoContext(ctx, "packages ranked",
		"prompt_version", promptVersion,
		"summaries_in_prompt", len(plan.Selected),
		"returned", len(out.RelevantPackages),
		"matched", len(mapped),
		"duration_ms", time.Since(start).Milliseconds())

	if len(mapped) == 0 {
		slog.WarnContext(ctx, "no ranked package matched a known package, using all packages",
			"returned", out.RelevantPackages)
		return known, nil
	}
	return mapped, nil
}

// packageDetails loads details for pkgs concurrently, keeping their order.
// Packages whose build fails are skipped; if every build fails the last
// failure is returned.
func (h *Hierarchical) packageDetails(ctx context.Context, pkgs []string) ([]budget.Candidate, error) {
	details := make([]*model.PackageDetails, len(pkgs))
	errs := make([]error, len(pkgs))

	var g errgroup.Group
	g.SetLimit(maxParallelBuilds)
	for i, pkg := range pkgs {
		g.Go(func() error {
			pctx := logger.WithLogFields(ctx, logger.LogFields{Package: logger.Ptr(pkg)})
			d, err := h.cache.GetOrBuild(pctx, pkg, h.build)
			if err != nil {
				errs[i] = err
				return nil
			}
			details[i] = &d
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		candidates []budget.Candidate
		lastErr    error
	)
	for i, pkg := range pkgs {
		if errs[i] != nil {
			slog.WarnContext(ctx, "skipping package without details", "package", pkg, "error", errs[i])
			lastErr = errs[i]
			continue
		}
		candidates = append(candidates, budget.Candidate{Key: pkg, Text: details[i].Text, Tokens: details[i].TokenCount})
	}
	if len(candidates) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return candidates, nil
}

func (h *Hierarchical) rankFiles(ctx context.Context, conv model.Conversation, candidates []budget.Candidate, topN int) ([]model.Suggestion, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	req := llm.Request{
		Messages:    withSystem(fmt.Sprintf(fileRankingPrompt, ""), conv),
		SchemaName:  "file_localization_suggestions",
		Schema:      fileSuggestionsSchema,
		Temperature: llm.Temp(0),
	}
	prompt, err := budgetPrompt(req, detailsSeparator)
	if err != nil {
		return nil, err
	}
	plan, err := h.planner.Plan(ctx, modelconfig.TaskLocalizeFiles, prompt, candidates)
	if err != nil {
		return nil, err
	}
	selected := plan.Selected
	if len(selected) == 0 {
		if plan.Remaining <= 0 {
			return nil, fmt.Errorf("%w: file ranking prompt needs %d tokens before package details, limit %d",
				ErrBudgetExhausted, plan.TemplateTokens, plan.Limit)
		}
		top := candidates[0]
		text, err := h.planner.Truncate(modelconfig.TaskLocalizeFiles, top.Text, plan.Remaining)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: no room for details of package %s", ErrBudgetExhausted, top.Key)
		}
		slog.WarnContext(ctx, "top package details truncated to fit context",
			"package", top.Key,
			"tokens", top.Tokens,
			"remaining", plan.Remaining)
		selected = []budget.Candidate{{Key: top.Key, Text: text, Tokens: plan.Remaining}}
	}

	rank := make(map[string]int, len(selected))
	texts := make([]string, len(selected))
	for i, c := range selected {
		rank[c.Key] = i
		texts[i] = c.Text
	}

	req.Messages = withSystem(fmt.Sprintf(fileRankingPrompt, strings.Join(texts, detailsSeparator)), conv)
	start := time.Now()
	resp, err := callModel(ctx, h.models, modelconfig.TaskLocalizeFiles, req, h.timeout)
	if err != nil {
		return nil, fmt.Errorf("file ranking call: %w", err)
	}

	var out FileSuggestions
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return nil, &LocalizationError{Strategy: StrategyHierarchical, Stage: StageFileRanking, Err: err}
	}

	suggestions := h.toSuggestions(ctx, out.FileLocalizationSuggestions, rank, topN)
	slog.InfoContext(ctx, "files ranked",
		"prompt_version", promptVersion,
		"packages_in_prompt", len(selected),
		"packages_skipped", plan.Skipped(len(candidates)),
		"returned", len(out.FileLocalizationSuggestions),
		"suggestions", len(suggestions),
		"duration_ms", time.Since(start).Milliseconds())

	return suggestions, nil
}

// toSuggestions drops entries without a file, collapses duplicate paths and
// orders by confidence, then by the rank of the package in the prompt.
func (h *Hierarchical) toSuggestions(ctx context.Context, raw []FileSuggestion, rank map[string]int, topN int) []model.Suggestion {
	type rankedSuggestion struct {
		model.Suggestion
		pkgRank int
	}

	seen := make(map[string]bool, len(raw))
	items := make([]rankedSuggestion, 0, len(raw))
	for _, r := range raw {
		file := strings.TrimSpace(r.File)
		if file == "" {
			continue
		}
		pkg := strings.Trim(strings.TrimSpace(r.Package), "`")

		filePath := h.resolveFilePath(ctx, pkg, file)
		if seen[filePath] {
			continue
		}
		seen[filePath] = true

		pkgRank, ok := rank[pkg]
		if !ok {
			pkgRank = len(rank)
		}
		items = append(items, rankedSuggestion{
			Suggestion: model.Suggestion{
				Package:    pkg,
				File:       path.Base(filepath.ToSlash(file)),
				FilePath:   filePath,
				Confidence: float64(r.Confidence),
				Reason:     strings.TrimSpace(r.Reason),
			},
			pkgRank: pkgRank,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].pkgRank < items[j].pkgRank
	})

	if len(items) > topN {
		items = items[:topN]
	}
	out := make([]model.Suggestion, len(items))
	for i, it := range items {
		out[i] = it.Suggestion
	}
	return out
}

// resolveFilePath derives the repository-relative path. When the checkout is
// available and the derived path is missing, the src folder is searched for
// the file name.
func (h *Hierarchical) resolveFilePath(ctx context.Context, pkg, file string) string {
	derived := project.FilePath(h.project, pkg, file)
	if h.project.RepoDir == "" {
		return derived
	}
	if _, err := os.Stat(filepath.Join(h.project.RepoDir, filepath.FromSlash(derived))); err == nil {
		return derived
	}

	name := path.Base(filepath.ToSlash(file))
	srcDir := filepath.Join(h.project.RepoDir, filepath.FromSlash(h.project.SrcFolder))
	found := ""
	_ = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if found == "" {
		slog.DebugContext(ctx, "suggested file not found in checkout", "package", pkg, "file", file, "derived", derived)
		return derived
	}

	rel, err := filepath.Rel(h.project.RepoDir, found)
	if err != nil {
		return derived
	}
	slog.DebugContext(ctx, "suggested file path corrected", "derived", derived, "corrected", filepath.ToSlash(rel))
	return filepath.ToSlash(rel)
}

var sourceExtensions = []string{".py", ".go", ".java", ".js", ".ts", ".rb", ".rs", ".md"}

// MapPackages maps model-returned package names onto known ones. Names are
// normalized ("/" to ".", a source extension and backticks stripped) and
// matched exactly, then by last dotted segment. Unmatched names are dropped
// and repeats keep their first position.
func MapPackages(returned, known []string) []string {
	byName := make(map[string]bool, len(known))
	for _, k := range known {
		byName[k] = true
	}

	seen := make(map[string]bool, len(returned))
	var out []string
	add := func(pkg string) {
		if !seen[pkg] {
			seen[pkg] = true
			out = append(out, pkg)
		}
	}

	for _, name := range returned {
		norm := normalizePackage(name)
		if norm == "" {
			continue
		}
		if byName[norm] {
			add(norm)
			continue
		}
		last := lastSegment(norm)
		for _, k := range known {
			if lastSegment(k) == last {
				add(k)
				break
			}
		}
	}
	return out
}

func normalizePackage(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "`'\"")
	name = strings.ReplaceAll(name, "/", ".")
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	return strings.Trim(name, ".")
}

func lastSegment(pkg string) string {
	if i := strings.LastIndex(pkg, "."); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}

var _ Strategy = (*Hierarchical)(nil)
