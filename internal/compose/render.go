package compose

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Renderer substitutes resolved field values into canned response templates.
//
// Authors write bare {{field}} placeholders; field names may be dotted
// (std.customer.name), so placeholders are rewritten to map lookups before
// parsing. A placeholder with no resolved value is an error, never empty
// output.
type Renderer struct {
	funcs template.FuncMap
}

// NewRenderer creates a renderer with the default helper functions.
func NewRenderer() *Renderer {
	return &Renderer{funcs: template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
	}}
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// Render executes a template against the resolved field values.
func (r *Renderer) Render(tmpl string, fields map[string]any) (string, error) {
	if tmpl == "" {
		return "", nil
	}

	rewritten := placeholderPattern.ReplaceAllString(tmpl, `{{index . "$1"}}`)

	t := template.New("canned").Funcs(r.funcs).Option("missingkey=error")
	parsed, err := t.Parse(rewritten)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	// index with missingkey=error still yields <no value> for absent map
	// keys, so absence is checked up front.
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := fields[m[1]]; !ok {
			return "", fmt.Errorf("unresolved field %q", m[1])
		}
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
