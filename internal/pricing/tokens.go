package pricing

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// EstimateTokens counts the tokens in text with the cl100k_base encoding.
// Used for pre-flight cost checks before streaming, where the provider has
// not yet reported usage. Falls back to the chars/4 heuristic when the
// encoding is unavailable (offline, missing cache).
func EstimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return approxTokens(text)
	}
	return len(encoder.Encode(text, nil, nil))
}

func approxTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
