// Package nlp adapts LLM providers to schematic generation: prompt in,
// typed JSON out.
//
// Every engine call names a JSON schema derived from its Go result type.
// Providers are asked for a JSON document, the document is validated against
// the schema, and the result is unmarshaled into the caller's type. The
// engine never sees provider-specific types.
package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/retry"
	"github.com/haasonsaas/parley/pkg/models"
)

// Hints tune a single generation.
type Hints struct {
	// Temperature overrides the provider default when > 0.
	Temperature float64

	// MaxTokens bounds the completion length when > 0.
	MaxTokens int
}

// Request asks a provider for one JSON document.
type Request struct {
	// SchemaName identifies the call site for logging and usage accounting.
	SchemaName string

	// Prompt is the full prompt text.
	Prompt string

	// SchemaJSON is the JSON schema the response must satisfy; providers
	// may include it in the request to steer the model.
	SchemaJSON []byte

	Hints Hints
}

// Response is a provider's raw answer.
type Response struct {
	RawJSON []byte
	Info    models.GenerationInfo
}

// Provider produces JSON documents from prompts. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Name identifies the provider for logging ("openai", "anthropic", ...).
	Name() string

	// GenerateJSON performs one completion and returns the raw JSON text.
	GenerateJSON(ctx context.Context, req Request) (Response, error)
}

// Generator binds a provider to the schema registry and performs validated,
// typed generation. It is the engine's only LLM entry point.
type Generator struct {
	provider Provider
	schemas  *SchemaRegistry
	retry    retry.Config
}

// NewGenerator creates a generator over the given provider with the default
// retry policy (3 attempts, exponential backoff).
func NewGenerator(provider Provider) *Generator {
	return &Generator{
		provider: provider,
		schemas:  NewSchemaRegistry(),
		retry:    retry.DefaultConfig(),
	}
}

// Provider returns the underlying provider.
func (g *Generator) Provider() Provider {
	return g.provider
}

// Generate performs one schematic generation: it derives the schema for T,
// prompts the provider, validates the response, and unmarshals it.
//
// A schema-invalid or unparsable response is retried like a transient
// provider failure; the last error surfaces after three attempts.
func Generate[T any](ctx context.Context, g *Generator, schemaName, prompt string, hints Hints) (T, models.GenerationInfo, error) {
	var zero T

	schema, err := g.schemas.SchemaFor(schemaName, zero)
	if err != nil {
		return zero, models.GenerationInfo{}, fmt.Errorf("derive schema %s: %w", schemaName, err)
	}

	start := time.Now()
	var info models.GenerationInfo

	result, res := retry.DoWithValue(ctx, g.retry, func() (T, error) {
		req := Request{
			SchemaName: schemaName,
			Prompt:     prompt,
			SchemaJSON: schema.JSON,
			Hints:      hints,
		}
		resp, err := g.provider.GenerateJSON(ctx, req)
		if err != nil {
			return zero, fmt.Errorf("%s generation: %w", schemaName, err)
		}
		in, out := resp.Info.InputTokens, resp.Info.OutputTokens
		if in == 0 && out == 0 {
			// Not every provider reports usage; estimate so accounting
			// never reads zero for a completed call.
			in, out = CountTokens(prompt), CountTokens(string(resp.RawJSON))
		}
		info.InputTokens += in
		info.OutputTokens += out
		info.Model = resp.Info.Model

		var parsed T
		if err := schema.ValidateAndUnmarshal(resp.RawJSON, &parsed); err != nil {
			return zero, fmt.Errorf("%s response: %w", schemaName, err)
		}
		return parsed, nil
	})
	info.SchemaName = schemaName
	info.Duration = time.Since(start)

	if res.Err != nil {
		return zero, info, res.Err
	}
	return result, info, nil
}

// GenerateWithTemperatureRamp runs Generate with escalating temperatures,
// returning the first success. Used by the fluid composer (0.1, 0.3, 0.5).
func GenerateWithTemperatureRamp[T any](ctx context.Context, g *Generator, schemaName, prompt string, temperatures []float64) (T, models.GenerationInfo, error) {
	var (
		zero    T
		info    models.GenerationInfo
		lastErr error
	)
	for _, temp := range temperatures {
		result, callInfo, err := Generate[T](ctx, g, schemaName, prompt, Hints{Temperature: temp})
		info.InputTokens += callInfo.InputTokens
		info.OutputTokens += callInfo.OutputTokens
		info.SchemaName = schemaName
		info.Model = callInfo.Model
		info.Duration += callInfo.Duration
		if err == nil {
			return result, info, nil
		}
		if ctx.Err() != nil {
			return zero, info, ctx.Err()
		}
		lastErr = err
	}
	return zero, info, lastErr
}

// ExtractJSON trims provider chatter around a JSON document: markdown code
// fences and any text before the first brace or after the last one.
func ExtractJSON(text string) []byte {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return []byte(s)
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}
