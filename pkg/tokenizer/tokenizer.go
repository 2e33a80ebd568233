package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding returns the shared cl100k_base encoder, or nil when the
// encoding data cannot be loaded (e.g. offline environments).
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// CountTokens returns the token count for text, using tiktoken when the
// encoding is available and a word-based estimate otherwise.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return estimate(text)
}

// CountTokensForModel returns the token count using a model-specific encoding.
func CountTokensForModel(text, model string) int {
	if text == "" {
		return 0
	}
	if e, err := tiktoken.EncodingForModel(model); err == nil {
		return len(e.Encode(text, nil, nil))
	}
	return CountTokens(text)
}

// estimate approximates token counts at ~4/3 tokens per word.
func estimate(text string) int {
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}
