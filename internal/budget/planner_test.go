package budget_test

import (
	"context"
	"math/rand"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/common/tokens"
	"basegraph.app/localizer/core/config/modelconfig"
	"basegraph.app/localizer/internal/budget"
)

func keys(cs []budget.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key
	}
	return out
}

var _ = Describe("Planner", func() {
	var (
		ctx      context.Context
		planner  *budget.Planner
		template string
		a, b, c  budget.Candidate
	)

	BeforeEach(func() {
		ctx = context.Background()
		registry := modelconfig.NewStatic("test", modelconfig.TaskConfig{
			Task:         modelconfig.TaskLocalizeFiles,
			Model:        "local-model",
			ContextLimit: 110,
		})
		planner = budget.NewPlanner(registry, tokens.Heuristic{})

		// 60 bytes = 20 heuristic tokens
		template = strings.Repeat("t", 60)
		a = budget.Candidate{Key: "A", Tokens: 100}
		b = budget.Candidate{Key: "B", Tokens: 50}
		c = budget.Candidate{Key: "C", Tokens: 30}
	})

	It("stops at the first candidate that overflows", func() {
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: template}, []budget.Candidate{a, b, c})
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.TemplateTokens).To(Equal(20))
		Expect(plan.Selected).To(BeEmpty())
		Expect(plan.Remaining).To(Equal(90))
	})

	It("selects the fitting prefix when small packages lead", func() {
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: template}, []budget.Candidate{b, c, a})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(plan.Selected)).To(Equal([]string{"B", "C"}))
		Expect(plan.Used).To(Equal(100))
		Expect(plan.Remaining).To(Equal(10))
	})

	It("includes a candidate that lands exactly on the limit", func() {
		exact := budget.Candidate{Key: "X", Tokens: 90}
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: template}, []budget.Candidate{exact, c})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(plan.Selected)).To(Equal([]string{"X"}))
		Expect(plan.Remaining).To(Equal(0))
	})

	It("does not skip ahead to smaller candidates after an overflow", func() {
		big := budget.Candidate{Key: "BIG", Tokens: 80}
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: template}, []budget.Candidate{c, big, b})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(plan.Selected)).To(Equal([]string{"C"}))
	})

	It("returns an empty selection when the template alone overflows", func() {
		huge := strings.Repeat("t", 600)
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: huge}, []budget.Candidate{c})
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.TemplateOverflows()).To(BeTrue())
		Expect(plan.Selected).To(BeEmpty())
		Expect(plan.Remaining).To(BeNumerically("<=", 0))
	})

	It("charges the separator between selected candidates", func() {
		// "\n\n" is one heuristic token: 20 + 30 + (1+30) + (1+28) = 110.
		sep := budget.Prompt{Template: template, Separator: "\n\n"}
		c2 := budget.Candidate{Key: "C2", Tokens: 30}
		fits := budget.Candidate{Key: "D", Tokens: 28}
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, sep, []budget.Candidate{c, c2, fits})
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.SeparatorTokens).To(Equal(1))
		Expect(keys(plan.Selected)).To(Equal([]string{"C", "C2", "D"}))
		Expect(plan.Remaining).To(Equal(0))

		over := budget.Candidate{Key: "E", Tokens: 29}
		plan, err = planner.Plan(ctx, modelconfig.TaskLocalizeFiles, sep, []budget.Candidate{c, c2, over})
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(plan.Selected)).To(Equal([]string{"C", "C2"}))
	})

	It("adds the fixed overhead to the template cost", func() {
		plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, budget.Prompt{Template: template, Overhead: 8}, []budget.Candidate{b, c})
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.TemplateTokens).To(Equal(28))
		Expect(keys(plan.Selected)).To(Equal([]string{"B", "C"}))
		Expect(plan.Remaining).To(Equal(2))
	})

	It("fails for an unconfigured task", func() {
		_, err := planner.Plan(ctx, modelconfig.TaskGenerateSuggestions, budget.Prompt{Template: template}, nil)
		Expect(err).To(MatchError(ContainSubstring("generate_suggestions")))
	})

	It("never exceeds the limit and always returns a prefix", func() {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 500; i++ {
			n := rng.Intn(12)
			candidates := make([]budget.Candidate, n)
			for j := range candidates {
				candidates[j] = budget.Candidate{Key: string(rune('a' + j)), Tokens: rng.Intn(60)}
			}
			tmpl := strings.Repeat("t", rng.Intn(400))

			prompt := budget.Prompt{Template: tmpl, Separator: strings.Repeat("\n", rng.Intn(7)), Overhead: rng.Intn(10)}

			plan, err := planner.Plan(ctx, modelconfig.TaskLocalizeFiles, prompt, candidates)
			Expect(err).NotTo(HaveOccurred())

			Expect(keys(plan.Selected)).To(Equal(keys(candidates[:len(plan.Selected)])))
			if !plan.TemplateOverflows() {
				total := plan.TemplateTokens
				for i, s := range plan.Selected {
					total += s.Tokens
					if i > 0 {
						total += plan.SeparatorTokens
					}
				}
				Expect(total).To(BeNumerically("<=", plan.Limit))
				Expect(total).To(Equal(plan.Used))
			} else {
				Expect(plan.Selected).To(BeEmpty())
			}
		}
	})
})
