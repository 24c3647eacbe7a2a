package scanner

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ignoreRule is one parsed .gitignore line.
type ignoreRule struct {
	pattern  *regexp.Regexp
	negated  bool // leading !
	dirOnly  bool // trailing /
	anchored bool // leading /
}

// IgnoreMatcher evaluates gitignore rules in file order; the last matching
// rule wins, negations re-include.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// LoadIgnore parses the repository's .gitignore if present. Parse errors on
// individual lines degrade to skipping that line; a missing or unreadable
// file degrades to "no ignore".
func LoadIgnore(root string) *IgnoreMatcher {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return &IgnoreMatcher{}
	}
	defer f.Close()

	m := &IgnoreMatcher{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if rule, ok := parseIgnoreLine(sc.Text()); ok {
			m.rules = append(m.rules, rule)
		}
	}
	return m
}

// NewIgnoreMatcher builds a matcher from raw gitignore lines, for tests and
// callers with out-of-band rules.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range lines {
		if rule, ok := parseIgnoreLine(line); ok {
			m.rules = append(m.rules, rule)
		}
	}
	return m
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	var rule ignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		rule.anchored = true
		line = line[1:]
	}
	// A pattern with an internal slash is anchored to the root in gitignore.
	if strings.Contains(line, "/") {
		rule.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}

	re, err := regexp.Compile(translatePattern(line, rule.anchored))
	if err != nil {
		return ignoreRule{}, false
	}
	rule.pattern = re
	return rule, true
}

// translatePattern converts a gitignore glob into a regexp: `*` matches any
// non-separator run, `**/` any (possibly empty) path prefix, `?` one
// non-separator, bracket classes pass through, everything else is escaped.
func translatePattern(pattern string, anchored bool) string {
	var b strings.Builder
	if anchored {
		b.WriteString(`^`)
	} else {
		b.WriteString(`(^|/)`)
	}

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				b.WriteString(`(?:.*/)?`)
				i += 2
			} else if strings.HasPrefix(pattern[i:], "**") {
				b.WriteString(`.*`)
				i++
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`[^/]`)
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end > 0 {
				b.WriteString(pattern[i : i+end+1])
				i += end
			} else {
				b.WriteString(`\[`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString(`$`)
	return b.String()
}

// Match reports whether the slash-separated relative path is ignored. The
// last matching rule decides; directory rules also match every ancestor
// directory of a file path.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	if m == nil || len(m.rules) == 0 {
		return false
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "./")

	ignored := false
	for _, rule := range m.rules {
		if rule.matches(relPath, isDir) {
			ignored = !rule.negated
		}
	}
	return ignored
}

func (r ignoreRule) matches(relPath string, isDir bool) bool {
	if r.dirOnly {
		if isDir && r.pattern.MatchString(relPath) {
			return true
		}
		// Directory rules match any parent directory of a file path.
		for _, dir := range ancestors(relPath) {
			if r.pattern.MatchString(dir) {
				return true
			}
		}
		return false
	}
	if r.pattern.MatchString(relPath) {
		return true
	}
	// Non-dir rules still apply when they name a directory on the path.
	for _, dir := range ancestors(relPath) {
		if r.pattern.MatchString(dir) {
			return true
		}
	}
	return false
}

func ancestors(relPath string) []string {
	var out []string
	for i, ch := range relPath {
		if ch == '/' {
			out = append(out, relPath[:i])
		}
	}
	return out
}
