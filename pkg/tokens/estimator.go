// Package tokens provides pluggable token cost estimation for context messages.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator maps text to an approximate token cost. Implementations are
// pure and safe for concurrent use. Estimates are approximate - callers
// must not assume exact provider parity.
type Estimator interface {
	// Estimate returns the approximate token count for the given text.
	Estimate(text string) int
}

// heuristicDivisor approximates 4 characters per token.
const heuristicDivisor = 4

// Heuristic is a character-count estimator used when no codec is available.
type Heuristic struct{}

// Estimate returns len(text)/4, minimum 1 for non-empty text.
func (Heuristic) Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / heuristicDivisor
	if n == 0 {
		n = 1
	}
	return n
}

// Tiktoken estimates token counts with a tiktoken codec.
type Tiktoken struct {
	codec tokenizer.Codec
}

// NewTiktoken creates an estimator for the specified model name. All known
// models currently map to the GPT-4 encoding; Claude and Gemini tokenize
// similarly enough for budget accounting.
func NewTiktoken(model string) (*Tiktoken, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Tiktoken{codec: codec}, nil
}

// Estimate returns the codec token count, falling back to the heuristic
// on codec errors.
func (t *Tiktoken) Estimate(text string) int {
	if t.codec == nil {
		return Heuristic{}.Estimate(text)
	}
	count, err := t.codec.Count(text)
	if err != nil {
		return Heuristic{}.Estimate(text)
	}
	return count
}

// Default returns the best available estimator: tiktoken when the codec
// loads, otherwise the character heuristic.
func Default(model string) Estimator {
	est, err := NewTiktoken(model)
	if err != nil {
		return Heuristic{}
	}
	return est
}
