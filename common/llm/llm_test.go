package llm_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/localizer/common/llm"
)

var _ = Describe("SanitizeName", func() {
	DescribeTable("sanitizes usernames for OpenAI name parameter",
		func(input, expected string) {
			Expect(llm.SanitizeName(input)).To(Equal(expected))
		},
		Entry("valid name unchanged", "alice", "alice"),
		Entry("dots replaced with underscore", "alice.smith", "alice_smith"),
		Entry("@ replaced with underscore", "alice@dev", "alice_dev"),
		Entry("hyphens preserved", "alice-dev", "alice-dev"),
		Entry("spaces replaced", "alice smith", "alice_smith"),
		Entry("long name truncated to 64 chars", strings.Repeat("a", 100), strings.Repeat("a", 64)),
		Entry("empty string unchanged", "", ""),
	)
})

var _ = Describe("ExtractCodeBlock", func() {
	DescribeTable("unwraps a single fenced block",
		func(input, expected string) {
			Expect(llm.ExtractCodeBlock(input)).To(Equal(expected))
		},
		Entry("plain json untouched", `{"a":1}`, `{"a":1}`),
		Entry("surrounding whitespace trimmed", "  {\"a\":1}\n", `{"a":1}`),
		Entry("json fence", "```json\n{\"a\":1}\n```", `{"a":1}`),
		Entry("bare fence", "```\n[1, 2]\n```", `[1, 2]`),
		Entry("multi-line body", "```json\n{\n  \"a\": 1\n}\n```", "{\n  \"a\": 1\n}"),
	)
})

var _ = Describe("DecodeJSON", func() {
	type ranked struct {
		RelevantPackages []string `json:"relevant_packages"`
	}

	It("decodes fenced output", func() {
		var out ranked
		err := llm.DecodeJSON("```json\n{\"relevant_packages\": [\"retrieval\"]}\n```", &out)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.RelevantPackages).To(ConsistOf("retrieval"))
	})

	It("rejects empty output", func() {
		var out ranked
		Expect(llm.DecodeJSON("   ", &out)).To(MatchError(ContainSubstring("empty")))
	})

	It("rejects prose", func() {
		var out ranked
		Expect(llm.DecodeJSON("I think retrieval is relevant.", &out)).To(HaveOccurred())
	})
})

var _ = Describe("GenerateSchema", func() {
	type suggestion struct {
		File       string  `json:"file"`
		Confidence float64 `json:"confidence"`
	}

	It("produces an inline object schema", func() {
		schema := llm.GenerateSchema[suggestion]()
		Expect(schema).NotTo(BeNil())
	})
})

var _ = Describe("PromptText", func() {
	type ranked struct {
		Packages []string `json:"packages"`
	}

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "rank packages"},
			{Role: llm.RoleUser, Name: "alice", Content: "retrieval is slow"},
			{Role: llm.RoleAssistant, Content: "look at index.py"},
		},
	}

	It("covers every message and participant name", func() {
		text, err := llm.PromptText(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("rank packages\nalice\nretrieval is slow\nlook at index.py"))
	})

	It("includes the schema instruction when a schema is set", func() {
		withSchema := req
		withSchema.SchemaName = "ranked"
		withSchema.Schema = llm.GenerateSchema[ranked]()

		text, err := llm.PromptText(withSchema)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(HavePrefix("rank packages\n"))
		Expect(text).To(ContainSubstring("named ranked"))
		Expect(text).To(ContainSubstring(`"packages"`))
	})

	It("charges framing per message and for the reply", func() {
		Expect(llm.PromptOverhead(req)).To(Equal(16))
		Expect(llm.PromptOverhead(llm.Request{})).To(Equal(4))
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "cohere", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	DescribeTable("applies provider default models",
		func(provider, expected string) {
			c, err := llm.New(llm.Config{Provider: provider, APIKey: "k"})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Model()).To(Equal(expected))
		},
		Entry("openai", llm.ProviderOpenAI, "gpt-4o-mini"),
		Entry("anthropic", llm.ProviderAnthropic, "claude-sonnet-4-5-20250514"),
		Entry("empty defaults to openai", "", "gpt-4o-mini"),
	)
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	It("does not retry cancellation", func() {
		Expect(llm.IsRetryable(ctx, context.Canceled)).To(BeFalse())
		Expect(llm.IsRetryable(ctx, context.DeadlineExceeded)).To(BeFalse())
	})

	It("retries transport errors", func() {
		Expect(llm.IsRetryable(ctx, errors.New("connection reset"))).To(BeTrue())
	})

	It("ignores nil", func() {
		Expect(llm.IsRetryable(ctx, nil)).To(BeFalse())
	})
})
