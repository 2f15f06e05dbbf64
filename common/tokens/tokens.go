// Package tokens estimates how many model tokens a piece of text costs.
//
// Counts come from the model's tiktoken encoding when one is known and loadable.
// Otherwise a heuristic is used that over-counts English prose and code for the
// common BPE tokenizers. Text outside ASCII is charged a token per rune, which
// can still under-count rare symbols that a tokenizer splits into single bytes.
package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// BytesPerToken is the heuristic ratio. BPE vocabularies average close to four
// bytes per token on English and code; three leaves headroom for denser text.
const BytesPerToken = 3

type Estimator interface {
	// Estimate returns the token count of text for model, never negative.
	Estimate(text, model string) int
	// Truncate cuts text so that Estimate(result, model) <= maxTokens.
	Truncate(text, model string, maxTokens int) string
}

// Heuristic counts ceil(asciiBytes/BytesPerToken) plus one token for every
// other rune, regardless of model. The count of a concatenation never exceeds
// the sum of the counts of its parts.
type Heuristic struct{}

func (Heuristic) Estimate(text, _ string) int {
	ascii, wide := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			wide++
		}
	}
	return heuristicCount(ascii, wide)
}

func (Heuristic) Truncate(text, _ string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ascii, wide := 0, 0
	for i, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			wide++
		}
		if heuristicCount(ascii, wide) > maxTokens {
			return text[:i]
		}
	}
	return text
}

func heuristicCount(ascii, wide int) int {
	return (ascii+BytesPerToken-1)/BytesPerToken + wide
}

// Tiktoken resolves one encoder per model id and caches the result, including
// failure, so a given model always gets the same counting method for the life
// of the process.
type Tiktoken struct {
	encoders sync.Map // model -> *tiktoken.Tiktoken (nil means heuristic)
	fallback Heuristic
}

func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

func (t *Tiktoken) Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	enc := t.encoder(model)
	if enc == nil {
		return t.fallback.Estimate(text, model)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Truncate(text, model string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc := t.encoder(model)
	if enc == nil {
		return t.fallback.Truncate(text, model, maxTokens)
	}
	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return enc.Decode(ids[:maxTokens])
}

func (t *Tiktoken) encoder(model string) *tiktoken.Tiktoken {
	if cached, ok := t.encoders.Load(model); ok {
		return cached.(*tiktoken.Tiktoken)
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		slog.Warn("tokenizer unavailable, using byte heuristic",
			"model", model,
			"bytes_per_token", BytesPerToken,
			"error", err)
		enc = nil
	}

	actual, _ := t.encoders.LoadOrStore(model, enc)
	return actual.(*tiktoken.Tiktoken)
}
