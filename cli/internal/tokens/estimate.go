// Package tokens estimates the token size of text sent to the model and warns
// when a request is likely to overflow the model's context window.
// Estimation is byte-based (about 4 bytes per token for code and English).
package tokens

import (
	"fmt"
	"math"
)

const charsPerToken = 4

// Estimate returns (len(text)+3)/4: 0 for empty text, 1 for 1–4 bytes, 2 for 5–8, etc.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// WarnIfOver returns a warning when promptTokens plus the tokens reserved for
// the response reach warnThreshold of contextLimit, and "" otherwise.
// contextLimit <= 0 disables the check.
func WarnIfOver(promptTokens, responseReserve, contextLimit int, warnThreshold float64) string {
	if contextLimit <= 0 || promptTokens < 0 || responseReserve < 0 {
		return ""
	}
	if responseReserve > math.MaxInt-promptTokens {
		return fmt.Sprintf("token estimate overflow (prompt %d + reserve %d)", promptTokens, responseReserve)
	}
	total := promptTokens + responseReserve
	threshold := int(math.Ceil(float64(contextLimit) * warnThreshold))
	if total < threshold {
		return ""
	}
	return fmt.Sprintf("estimated %d tokens (prompt %d + response %d) is %.0f%% or more of context limit %d",
		total, promptTokens, responseReserve, warnThreshold*100, contextLimit)
}
