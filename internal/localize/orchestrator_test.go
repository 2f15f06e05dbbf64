package localize_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/internal/conversation"
	"basegraph.app/localizer/internal/localize"
	"basegraph.app/localizer/internal/model"
)

type recordingStrategy struct {
	name  string
	err   error
	calls []recordedCall
}

type recordedCall struct {
	conv model.Conversation
	topN int
}

func (r *recordingStrategy) Name() string { return r.name }

func (r *recordingStrategy) Localize(_ context.Context, conv model.Conversation, topN int) ([]model.Suggestion, error) {
	r.calls = append(r.calls, recordedCall{conv: conv, topN: topN})
	if r.err != nil {
		return nil, r.err
	}
	return []model.Suggestion{{Package: "pkg", File: r.name + ".py", Confidence: 0.5, Reason: r.name}}, nil
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx         context.Context
		proj        model.Project
		primary     *recordingStrategy
		fallback    *recordingStrategy
		constructed atomic.Int32
		registry    localize.Registry
		issue       model.Issue
	)

	BeforeEach(func() {
		ctx = context.Background()
		proj = model.Project{
			Name:             "se-agent",
			Strategy:         "primary",
			FallbackStrategy: "fallback",
			TopNFiles:        4,
			AgentMarker:      conversation.DefaultMarker,
		}
		primary = &recordingStrategy{name: "primary"}
		fallback = &recordingStrategy{name: "fallback"}
		constructed.Store(0)
		registry = localize.Registry{
			"primary": func(localize.Deps) (localize.Strategy, error) {
				constructed.Add(1)
				return primary, nil
			},
			"fallback": func(localize.Deps) (localize.Strategy, error) { return fallback, nil },
		}
		issue = model.Issue{
			ID:          "17",
			Title:       "fix retrieval",
			Description: "it is slow",
			Comments:    []model.Comment{{ID: "1", Body: conversation.DefaultMarker + " look at index.py"}},
		}
	})

	newOrchestrator := func() *localize.Orchestrator {
		o, err := localize.NewOrchestrator(localize.Deps{Project: proj}, registry)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	It("builds the conversation once and runs the project strategy", func() {
		suggestions, err := newOrchestrator().Localize(ctx, issue, "", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(suggestions).To(HaveLen(1))
		Expect(suggestions[0].Reason).To(Equal("primary"))

		Expect(primary.calls).To(HaveLen(1))
		call := primary.calls[0]
		Expect(call.topN).To(Equal(2))
		Expect(call.conv.Messages).To(Equal([]model.Message{
			{Role: model.RoleUser, Content: "fix retrieval\n\nit is slow"},
			{Role: model.RoleAgent, Content: conversation.DefaultMarker + " look at index.py"},
		}))
	})

	It("uses the project's top_n_files when topN is zero", func() {
		_, err := newOrchestrator().Localize(ctx, issue, "primary", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(primary.calls[0].topN).To(Equal(4))
	})

	It("constructs each strategy once", func() {
		o := newOrchestrator()
		for range 3 {
			_, err := o.Localize(ctx, issue, "primary", 1)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(constructed.Load()).To(Equal(int32(1)))
	})

	It("rejects an unknown strategy name", func() {
		_, err := newOrchestrator().Localize(ctx, issue, "keyword", 1)
		Expect(err).To(MatchError(localize.ErrUnknownStrategy))
	})

	It("fails construction when the project names an unregistered strategy", func() {
		proj.FallbackStrategy = "missing"

		_, err := localize.NewOrchestrator(localize.Deps{Project: proj}, registry)
		Expect(err).To(MatchError(localize.ErrUnknownStrategy))
	})

	It("falls back when the index is unavailable", func() {
		primary.err = fmt.Errorf("querying: %w", localize.ErrIndexUnavailable)

		suggestions, err := newOrchestrator().Localize(ctx, issue, "", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(suggestions[0].Reason).To(Equal("fallback"))
		Expect(fallback.calls).To(HaveLen(1))
		Expect(fallback.calls[0].topN).To(Equal(3))
	})

	It("returns other failures untouched", func() {
		locErr := &localize.LocalizationError{Strategy: "primary", Stage: localize.StageFileRanking, Err: errors.New("bad json")}
		primary.err = locErr

		_, err := newOrchestrator().Localize(ctx, issue, "", 3)
		Expect(err).To(BeIdenticalTo(error(locErr)))
		Expect(fallback.calls).To(BeEmpty())
	})

	It("does not fall back without a fallback strategy", func() {
		proj.FallbackStrategy = ""
		primary.err = localize.ErrIndexUnavailable

		_, err := newOrchestrator().Localize(ctx, issue, "", 3)
		Expect(err).To(MatchError(localize.ErrIndexUnavailable))
	})

	It("rejects an empty issue", func() {
		_, err := newOrchestrator().Localize(ctx, model.Issue{ID: "1"}, "", 3)
		Expect(err).To(MatchError(conversation.ErrEmptyIssue))
	})

	It("runs the built-in vector strategy with its fallback end to end", func() {
		proj.Strategy = localize.StrategyVector
		registry = localize.DefaultRegistry()
		registry["fallback"] = func(localize.Deps) (localize.Strategy, error) { return fallback, nil }

		suggestions, err := newOrchestrator().Localize(ctx, issue, "", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(suggestions[0].Reason).To(Equal("fallback"))
	})
})
