package generation

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// TokenCounter counts tokens for one model family.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	codecMu    sync.Mutex
	codecCache = map[string]tokenizer.Codec{}
)

// NewTokenCounter returns a counter for model. Unknown models fall back to
// o200k_base.
func NewTokenCounter(model string) (*TokenCounter, error) {
	key := strings.ToLower(model)

	codecMu.Lock()
	defer codecMu.Unlock()
	if c, ok := codecCache[key]; ok {
		return &TokenCounter{codec: c}, nil
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(key))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			return nil, err
		}
	}
	codecCache[key] = codec
	return &TokenCounter{codec: codec}, nil
}

// Count returns the token count of text. Encoding failures fall back to a
// four-characters-per-token estimate.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.codec == nil {
		return estimateTokens(text)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimateTokens(text)
	}
	return len(ids)
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TrimHistory keeps the most recent turns that fit in budget tokens, in
// chronological order. A non-positive budget keeps nothing.
func TrimHistory(history []session.Turn, budget int, counter *TokenCounter) []session.Turn {
	if budget <= 0 || len(history) == 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter.Count(history[i].Message) + counter.Count(history[i].Response)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}
