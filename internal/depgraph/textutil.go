package depgraph

import "strings"

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// lineAt converts a byte offset into a 1-based line number.
func lineAt(src string, offset int) int {
	return strings.Count(src[:offset], "\n") + 1
}

// bodyFrom extracts a brace-balanced block starting at the declaration at
// byte offset start. Falls back to the rest of the line when no opening brace
// follows within a short window.
func bodyFrom(src string, start int) string {
	open := strings.IndexByte(src[start:], '{')
	if open < 0 || open > 500 {
		if nl := strings.IndexByte(src[start:], '\n'); nl >= 0 {
			return src[start : start+nl]
		}
		return src[start:]
	}
	depth := 0
	for i := start + open; i < len(src); i++ {
		switch src[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return src[start : i+1]
			}
		}
	}
	return src[start:]
}
