package localize

import (
	"fmt"
	"strings"

	"basegraph.app/localizer/common/llm"
	"basegraph.app/localizer/internal/budget"
	"basegraph.app/localizer/internal/model"
)

const promptVersion = "v1"

const packageRankingPrompt = `You are an AI assistant that helps with software issue localization.

You understand the issue content, any embedded code snippets, and any related discussion across messages.
Based on the package summaries below, identify the packages most relevant to the issue.
Return them in "relevant_packages", most relevant first, using the package names exactly as they appear in the summaries.

Here are the package summaries:
[PACKAGE-SUMMARIES-START]
%s
[PACKAGE-SUMMARIES-END]
`

const fileRankingPrompt = `You are an AI assistant specializing in localizing issues to related files based on semantic summaries of code packages and their files.

Return the files most relevant to the issue in "file_localization_suggestions". For each file give:
- package: the package name exactly as it appears in a package heading below
- file: the file name exactly as it appears in a file heading below
- confidence: a number between 0 and 1
- reason: one sentence on why the file is relevant

Here are the semantic summaries of the relevant packages:
---
%s
---
`

// formatSummary renders one package summary for the ranking prompt.
func formatSummary(s model.PackageSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", s.Name, strings.TrimSpace(s.Summary))
	if len(s.Names) > 0 {
		fmt.Fprintf(&b, "\nContained: %s\n", strings.Join(s.Names, ", "))
	}
	return b.String()
}

// conversationMessages maps the conversation onto chat roles. Agent messages
// were written by this system, so the model sees them as its own turns; user
// turns carry their author as the participant name.
func conversationMessages(conv model.Conversation) []llm.Message {
	msgs := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role == model.RoleAgent {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Name: llm.SanitizeName(m.Author), Content: m.Content})
	}
	return msgs
}

// withSystem prepends a system message to the conversation.
func withSystem(system string, conv model.Conversation) []llm.Message {
	return append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, conversationMessages(conv)...)
}

// Separators joining candidate texts in the ranking prompts.
const (
	summarySeparator = "\n"
	detailsSeparator = "\n\n"
)

// budgetPrompt measures req, whose candidate slot is still empty, for the planner.
func budgetPrompt(req llm.Request, separator string) (budget.Prompt, error) {
	text, err := llm.PromptText(req)
	if err != nil {
		return budget.Prompt{}, err
	}
	return budget.Prompt{Template: text, Separator: separator, Overhead: llm.PromptOverhead(req)}, nil
}
