package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// defaultAnthropicMaxTokens bounds completions when unconfigured; schema
// outputs are compact so this is generous.
const defaultAnthropicMaxTokens = 4096

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	// Model defaults to DefaultAnthropicModel.
	Model string
	// MaxTokens bounds completions when a request does not specify one.
	MaxTokens int
}

// AnthropicProvider generates JSON documents through the messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// GenerateJSON implements Provider.
func (p *AnthropicProvider) GenerateJSON(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	system := "You produce only JSON conforming to this schema, with no surrounding prose:\n" + string(req.SchemaJSON)

	maxTokens := p.maxTokens
	if req.Hints.MaxTokens > 0 {
		maxTokens = req.Hints.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Hints.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Hints.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, fmt.Errorf("anthropic completion: no text content returned")
	}

	out := Response{RawJSON: []byte(text.String())}
	out.Info.SchemaName = req.SchemaName
	out.Info.Model = string(msg.Model)
	out.Info.InputTokens = int(msg.Usage.InputTokens)
	out.Info.OutputTokens = int(msg.Usage.OutputTokens)
	out.Info.Duration = time.Since(start)
	return out, nil
}
