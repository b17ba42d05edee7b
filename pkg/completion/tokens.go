package completion

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		// The BPE ranks are fetched on first use; offline we fall back to an estimate.
		if tkm, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = tkm
		}
	})
	return encoding
}

// CountTokens returns the cl100k token count of text, or a rough
// four-characters-per-token estimate when the encoding is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tkm := getEncoding(); tkm != nil {
		return len(tkm.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
