package gateway

import (
	"strings"
	"unicode/utf8"

	"completion-gateway/internal/llm"
)

// EstimateTokenCount approximates the prompt size of messages: contents are
// joined with single spaces and the character count is divided by four,
// rounding up. It is not a tokenizer and will disagree with the usage a
// provider reports. Downstream budgets are calibrated against this exact
// formula, so keep it as is.
func EstimateTokenCount(messages []llm.Message) int {
	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	chars := utf8.RuneCountInString(strings.Join(contents, " "))
	return (chars + 3) / 4
}
