// Package budget decides how much candidate context fits in a model prompt.
package budget

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/localizer/common/tokens"
	"basegraph.app/localizer/core/config/modelconfig"
)

// TaskConfigs resolves the model and context limit for a task.
type TaskConfigs interface {
	Task(task modelconfig.Task) (modelconfig.TaskConfig, error)
}

// Candidate is one document competing for prompt space. Tokens is trusted as
// given, so callers pass the count measured when the text was cached.
type Candidate struct {
	Key    string
	Text   string
	Tokens int
}

// Prompt is what a request spends tokens on besides the candidates.
type Prompt struct {
	// Template is the full request text with the candidate slot left empty.
	Template string
	// Separator joins consecutive selected candidates in the slot.
	Separator string
	// Overhead is charged on top of Template for framing outside the text.
	Overhead int
}

type Plan struct {
	Selected       []Candidate
	Limit          int
	TemplateTokens int
	// SeparatorTokens is charged for every selected candidate after the first.
	SeparatorTokens int
	Used            int
	// Remaining is Limit - Used. It is negative when the template alone overflows.
	Remaining int
}

// TemplateOverflows reports that not even the bare prompt fits.
func (p Plan) TemplateOverflows() bool {
	return p.TemplateTokens > p.Limit
}

// Skipped is the number of candidates left out of the prompt.
func (p Plan) Skipped(total int) int {
	return total - len(p.Selected)
}

type Planner struct {
	configs   TaskConfigs
	estimator tokens.Estimator
}

func NewPlanner(configs TaskConfigs, estimator tokens.Estimator) *Planner {
	return &Planner{configs: configs, estimator: estimator}
}

// Plan selects the longest prefix of candidates that fits in the task's context
// limit alongside prompt. Candidates are never reordered and the first one that
// would overflow ends the selection. A template that by itself exceeds the limit
// yields an empty selection and a warning, not an error; the only error is an
// unconfigured task.
//
// The sum of the template, candidate and separator counts must bound the count
// of the assembled text, which holds for tokens.Heuristic.
func (p *Planner) Plan(ctx context.Context, task modelconfig.Task, prompt Prompt, candidates []Candidate) (Plan, error) {
	tc, err := p.configs.Task(task)
	if err != nil {
		return Plan{}, fmt.Errorf("resolving context limit for %s: %w", task, err)
	}

	templateTokens := p.estimator.Estimate(prompt.Template, tc.Model) + max(prompt.Overhead, 0)
	plan := Plan{
		Limit:           tc.ContextLimit,
		TemplateTokens:  templateTokens,
		SeparatorTokens: p.estimator.Estimate(prompt.Separator, tc.Model),
		Used:            templateTokens,
	}

	for i, c := range candidates {
		cost := max(c.Tokens, 0)
		if i > 0 {
			cost += plan.SeparatorTokens
		}
		if plan.Used+cost > plan.Limit {
			break
		}
		plan.Selected = append(plan.Selected, c)
		plan.Used += cost
	}
	plan.Remaining = plan.Limit - plan.Used

	if plan.TemplateOverflows() {
		slog.WarnContext(ctx, "prompt template alone exceeds context limit",
			"task", task,
			"model", tc.Model,
			"limit", plan.Limit,
			"template_tokens", templateTokens)
	} else if len(plan.Selected) < len(candidates) {
		slog.DebugContext(ctx, "context budget truncated candidates",
			"task", task,
			"limit", plan.Limit,
			"selected", len(plan.Selected),
			"skipped", plan.Skipped(len(candidates)),
			"remaining", plan.Remaining)
	}

	return plan, nil
}

// Estimate measures text with the task's model. Used for building candidates.
func (p *Planner) Estimate(task modelconfig.Task, text string) (int, error) {
	tc, err := p.configs.Task(task)
	if err != nil {
		return 0, err
	}
	return p.estimator.Estimate(text, tc.Model), nil
}

// Truncate cuts text to at most maxTokens for the task's model.
func (p *Planner) Truncate(task modelconfig.Task, text string, maxTokens int) (string, error) {
	tc, err := p.configs.Task(task)
	if err != nil {
		return "", err
	}
	return p.estimator.Truncate(text, tc.Model, maxTokens), nil
}
