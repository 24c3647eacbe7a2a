package llm

import "strings"

// maxTokensByPrefix maps model families to their output token ceilings.
// Longest matching prefix wins.
var maxTokensByPrefix = map[string]int{
	"gpt-4o":            16384,
	"gpt-4.1":           32768,
	"gpt-4":             8192,
	"o1":                100000,
	"o3":                100000,
	"o4":                100000,
	"claude-3-5-haiku":  8192,
	"claude-3-5-sonnet": 8192,
	"claude-3-7-sonnet": 64000,
	"claude-sonnet-4":   64000,
	"claude-opus-4":     32000,
	"deepseek":          8192,
	"qwen":              8192,
}

const defaultMaxTokens = 8192

// MaxTokensFor returns the output token ceiling for a model name.
func MaxTokensFor(model string) int {
	model = strings.ToLower(strings.TrimSpace(model))
	best, bestLen := defaultMaxTokens, 0
	for prefix, limit := range maxTokensByPrefix {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = limit, len(prefix)
		}
	}
	return best
}
