// Package prompts ships the prompt template library and the extraction
// helpers that pull structured payloads out of model output.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/YickelFuboo/OpenDeepWiki/internal/store"
)

//go:embed templates/*.md
var templateFS embed.FS

// Library is the flat namespace of named templates. Names are file stems:
// templates/Overview.md registers as "Overview".
type Library struct {
	templates map[string]string
}

// NewLibrary loads the embedded template set.
func NewLibrary() (*Library, error) {
	lib := &Library{templates: map[string]string{}}
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".md")
		data, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		lib.templates[name] = string(data)
	}
	return lib, nil
}

// Has reports whether a template is registered.
func (l *Library) Has(name string) bool {
	_, ok := l.templates[name]
	return ok
}

var varPattern = regexp.MustCompile(`\{\{\$(\w+)\}\}`)

// Render substitutes {{$var}} placeholders. Missing variables render empty;
// rendering never executes code.
func (l *Library) Render(name string, vars map[string]string) (string, error) {
	tpl, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}
	return varPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		key := varPattern.FindStringSubmatch(m)[1]
		return vars[key]
	}), nil
}

// ClassifiedName selects "base + classification" when that variant exists,
// falling back to the base template. A nil classification always selects the
// base.
func (l *Library) ClassifiedName(base string, c *store.Classification) string {
	if c == nil {
		return base
	}
	variant := base + string(*c)
	if l.Has(variant) {
		return variant
	}
	return base
}
