// Package template renders stored message templates by substituting
// {{key}} placeholders with caller-supplied variables.
package template

import (
	"regexp"
	"strings"

	"github.com/piquet/courier/internal/store"
)

// varPattern matches {{variable_name}} placeholders, with optional
// surrounding whitespace inside the braces.
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Rendered is a template with all placeholders substituted.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Render substitutes vars into the template's subject and bodies. Keys match
// case-sensitively and exactly; placeholders with no matching key render as
// empty strings.
func Render(t *store.Template, vars map[string]string) *Rendered {
	return &Rendered{
		Subject: Substitute(t.Subject, vars),
		HTML:    Substitute(t.HTMLBody, vars),
		Text:    Substitute(t.Body, vars),
	}
}

// Substitute replaces every {{key}} placeholder in s with vars[key].
func Substitute(s string, vars map[string]string) string {
	if s == "" {
		return s
	}

	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		return vars[name]
	})
}
