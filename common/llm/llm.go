package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

var (
	nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	codeFence        = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n(.*?)\\n?```$")
)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string // "openai" or "anthropic"
	APIKey   string // Required: API key for the provider
	BaseURL  string // Optional: custom API endpoint
	Model    string // Model name (e.g., "gpt-4o", "claude-sonnet-4-5-20250514")
}

// Client issues one chat completion per call. When Request.Schema is set the
// provider is asked for JSON matching it; Response.Content is the raw text either way.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	Model() string
}

type Request struct {
	Messages    []Message
	SchemaName  string
	Schema      any
	MaxTokens   int
	Temperature *float64 // nil = model default, explicit 0 = deterministic
}

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Name    string // Optional: participant name (user messages only)
	Content string
}

type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// New creates a Client for cfg.Provider. Defaults to OpenAI if no provider is specified.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// GenerateSchema generates a strict JSON schema for T.
func GenerateSchema[T any]() any {
	var v T
	return GenerateSchemaFrom(v)
}

// GenerateSchemaFrom generates a JSON schema from an instance value.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// ExtractCodeBlock returns the body of a single fenced code block wrapping s,
// or s trimmed of surrounding whitespace when there is no fence.
func ExtractCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// DecodeJSON unmarshals model output into v, tolerating a surrounding code fence.
func DecodeJSON(content string, v any) error {
	body := ExtractCodeBlock(content)
	if body == "" {
		return fmt.Errorf("empty model output")
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("unmarshal model output: %w", err)
	}
	return nil
}

// SanitizeName converts a username to a valid OpenAI name parameter.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
// Invalid characters are replaced with underscores, and the result is truncated to 64 characters.
func SanitizeName(username string) string {
	sanitized := nameInvalidChars.ReplaceAllString(username, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

// messageOverheadTokens approximates the framing a provider adds around each
// message and around the reply.
const messageOverheadTokens = 4

// PromptText is the text req spends input tokens on: every message with its
// participant name and, when a schema is set, the instruction carrying it.
func PromptText(req Request) (string, error) {
	var b strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Name != "" {
			b.WriteString(m.Name)
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	if req.Schema != nil {
		instruction, err := schemaInstruction(req.SchemaName, req.Schema)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(instruction)
	}
	return b.String(), nil
}

// PromptOverhead is the input token cost of req outside PromptText.
func PromptOverhead(req Request) int {
	return messageOverheadTokens * (len(req.Messages) + 1)
}

func Temp(t float64) *float64 {
	return &t
}

// IsRetryable reports whether a failed call is worth retrying. This layer never
// retries on its own; callers that own a retry policy use this to decide.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	status := 0
	var openaiErr *openai.Error
	var anthropicErr *anthropic.Error
	switch {
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	default:
		// No API response: transport failures and errors from outside this layer.
		slog.DebugContext(ctx, "error without provider status, retryable", "error", err)
		return true
	}

	switch {
	case status == 429:
		slog.WarnContext(ctx, "llm rate limited, retryable", "status_code", status)
		return true
	case status >= 500:
		slog.WarnContext(ctx, "llm server error, retryable", "status_code", status)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", status)
		return false
	}
}
