package models

import (
	"regexp"
	"time"
)

// CannedResponse is a pre-authored reply template.
//
// Template uses {{field}} placeholders. Signals are paraphrases used for
// semantic retrieval against a draft reply.
type CannedResponse struct {
	ID        string    `json:"id"`
	Template  string    `json:"template"`
	Fields    []string  `json:"fields,omitempty"`
	Signals   []string  `json:"signals,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var templateFieldPattern = regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// TemplateFields returns the distinct placeholder names referenced by the
// template, in first-appearance order. Declared Fields are merged in so a
// template may require fields it does not render.
func (c *CannedResponse) TemplateFields() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, m := range templateFieldPattern.FindAllStringSubmatch(c.Template, -1) {
		add(m[1])
	}
	for _, f := range c.Fields {
		add(f)
	}
	return out
}

// HasTag reports whether the response carries the given tag.
func (c *CannedResponse) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
