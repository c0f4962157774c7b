package nlp

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	// Model defaults to DefaultOpenAIModel.
	Model string
	// BaseURL overrides the API endpoint (for proxies and compatible servers).
	BaseURL string
	// MaxTokens bounds completions when a request does not specify one.
	MaxTokens int
}

// OpenAIProvider generates JSON documents through the chat completions API
// with response_format=json_object.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateJSON implements Provider.
func (p *OpenAIProvider) GenerateJSON(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	system := "You produce only JSON conforming to this schema, with no surrounding prose:\n" + string(req.SchemaJSON)

	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if req.Hints.Temperature > 0 {
		chatReq.Temperature = float32(req.Hints.Temperature)
	}
	if req.Hints.MaxTokens > 0 {
		chatReq.MaxTokens = req.Hints.MaxTokens
	} else if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai completion: no choices returned")
	}

	out := Response{RawJSON: []byte(resp.Choices[0].Message.Content)}
	out.Info.SchemaName = req.SchemaName
	out.Info.Model = resp.Model
	out.Info.InputTokens = resp.Usage.PromptTokens
	out.Info.OutputTokens = resp.Usage.CompletionTokens
	out.Info.Duration = time.Since(start)
	return out, nil
}
