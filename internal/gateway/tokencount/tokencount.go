// Package tokencount estimates token counts for providers that omit usage
// data. Estimates are a fallback, never a replacement for provider-reported
// counts, and callers flag them as such.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding returns a process-wide cl100k_base encoder. All supported model
// families tokenize close enough to cl100k_base for estimation purposes.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// Estimate counts tokens in a text. Falls back to a bytes/4 heuristic if the
// encoder cannot be loaded (it downloads its BPE table on first use).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// EstimateMessages approximates the prompt token count of a chat request,
// including a small per-message framing overhead.
func EstimateMessages(messages []openai.ChatCompletionMessage) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content) + 4
	}
	return total
}
