package nlp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// PromptBuilder assembles a prompt from named sections in insertion order.
// Sections keep prompts inspectable: tests and inspection records can assert
// that a given section was present without parsing free text.
type PromptBuilder struct {
	sections []promptSection
}

type promptSection struct {
	name string
	text string
}

// NewPromptBuilder creates an empty builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// AddSection appends a named section. Empty text is skipped so callers can
// add optional sections unconditionally.
func (b *PromptBuilder) AddSection(name, text string) *PromptBuilder {
	if strings.TrimSpace(text) == "" {
		return b
	}
	b.sections = append(b.sections, promptSection{name: name, text: strings.TrimRight(text, "\n")})
	return b
}

// AddSectionf appends a formatted section.
func (b *PromptBuilder) AddSectionf(name, format string, args ...any) *PromptBuilder {
	return b.AddSection(name, fmt.Sprintf(format, args...))
}

// HasSection reports whether a section with the given name was added.
func (b *PromptBuilder) HasSection(name string) bool {
	for _, s := range b.sections {
		if s.name == name {
			return true
		}
	}
	return false
}

// Build renders the prompt.
func (b *PromptBuilder) Build() string {
	var sb strings.Builder
	for i, s := range b.sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.text)
	}
	return sb.String()
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding, falling back to a bytes/4 heuristic if the encoding is
// unavailable (e.g. offline BPE data).
func CountTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

// TokenCount reports the estimated prompt size of the builder's output.
func (b *PromptBuilder) TokenCount() int {
	return CountTokens(b.Build())
}
