package kernel

import (
	"path/filepath"
	"strings"
)

// codeExtensions lists the kinds the compression pass understands.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cc": true,
	".cpp": true, ".hpp": true, ".cs": true, ".rb": true, ".rs": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true,
}

func isCodeFile(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

// compressCode shrinks source for prompt context: blank lines and pure
// comment lines are dropped, trailing whitespace trimmed. Structure and
// indentation survive so line-oriented reasoning still works.
func compressCode(src string) string {
	lines := strings.Split(src, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "* ") || trimmed == "*" ||
			strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "*/") {
			continue
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Join(out, "\n")
}
