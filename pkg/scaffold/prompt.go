// Package scaffold asks a language model for a SQL script that sets up a
// PostgREST + HTMX application, and extracts the script from the reply.
package scaffold

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompt.tmpl
var promptText string

var promptTemplate = template.Must(template.New("prompt").Parse(promptText))

// BuildPrompt embeds an application description in the generation guide
func BuildPrompt(app string) (string, error) {
	app = strings.TrimSpace(app)
	if app == "" {
		return "", ErrEmptyPrompt
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, struct{ App string }{App: app}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
