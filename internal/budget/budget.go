// Package budget estimates prompt size and trims retrieved context to fit the
// generation model's input window. Backends use different tokenizers, so the
// estimate is a character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pdfrag-go/internal/rag"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role/framing tokens of one message.
	perMessageOverhead = 4

	// contextSeparatorTokens is the cost of the blank line between chunks.
	contextSeparatorTokens = 1

	// DefaultMaxContextTokens is the default input budget. It fits 8k-context
	// models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, role and
// content included.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimMatches drops matches from the end of the slice until fixedTokens plus
// the estimated size of the remaining chunk texts fits within maxTokens.
// matches are expected in descending score order, so the weakest context goes
// first. A non-positive maxTokens disables trimming.
func TrimMatches(fixedTokens int, matches []rag.Match, maxTokens int) []rag.Match {
	if maxTokens <= 0 {
		return matches
	}
	total := fixedTokens
	for i, m := range matches {
		cost := Estimate(m.Text)
		if i > 0 {
			cost += contextSeparatorTokens
		}
		if total+cost > maxTokens {
			return matches[:i]
		}
		total += cost
	}
	return matches
}
