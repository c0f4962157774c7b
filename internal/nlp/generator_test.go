package nlp

import (
	"context"
	"strings"
	"testing"
)

type greeting struct {
	Message string `json:"message"`
	Formal  bool   `json:"formal"`
}

func TestGenerateReturnsTypedResult(t *testing.T) {
	provider := NewStaticProvider()
	provider.Enqueue("greeting", `{"message": "hello", "formal": false}`)
	g := NewGenerator(provider)

	result, info, err := Generate[greeting](context.Background(), g, "greeting", "say hello", Hints{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Message != "hello" || result.Formal {
		t.Errorf("result = %+v", result)
	}
	if info.SchemaName != "greeting" {
		t.Errorf("SchemaName = %q, want greeting", info.SchemaName)
	}
	if provider.CallCount("greeting") != 1 {
		t.Errorf("call count = %d, want 1", provider.CallCount("greeting"))
	}
}

func TestGenerateRetriesInvalidResponse(t *testing.T) {
	provider := NewStaticProvider()
	provider.Enqueue("greeting", `not json at all`)
	provider.Enqueue("greeting", `{"message": "second try", "formal": true}`)
	g := NewGenerator(provider)

	result, _, err := Generate[greeting](context.Background(), g, "greeting", "say hello", Hints{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Message != "second try" {
		t.Errorf("Message = %q, want second try", result.Message)
	}
	if provider.CallCount("greeting") != 2 {
		t.Errorf("call count = %d, want 2", provider.CallCount("greeting"))
	}
}

func TestGenerateToleratesExtraFields(t *testing.T) {
	provider := NewStaticProvider()
	provider.Enqueue("greeting", `{"message": "hi", "formal": false, "confidence": 0.9}`)
	g := NewGenerator(provider)

	if _, _, err := Generate[greeting](context.Background(), g, "greeting", "p", Hints{}); err != nil {
		t.Fatalf("extra fields should validate: %v", err)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	provider := NewStaticProvider()
	for i := 0; i < 3; i++ {
		provider.Enqueue("greeting", `broken`)
	}
	g := NewGenerator(provider)

	_, _, err := Generate[greeting](context.Background(), g, "greeting", "p", Hints{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if provider.CallCount("greeting") != 3 {
		t.Errorf("call count = %d, want 3", provider.CallCount("greeting"))
	}
}

func TestGenerateWithTemperatureRamp(t *testing.T) {
	provider := NewStaticProvider()
	// Three transient failures burn the first temperature's retry budget,
	// then the second temperature succeeds.
	for i := 0; i < 3; i++ {
		provider.Enqueue("greeting", `broken`)
	}
	provider.Enqueue("greeting", `{"message": "warmer", "formal": false}`)
	g := NewGenerator(provider)

	result, _, err := GenerateWithTemperatureRamp[greeting](context.Background(), g, "greeting", "p", []float64{0.1, 0.3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Message != "warmer" {
		t.Errorf("Message = %q, want warmer", result.Message)
	}

	prompts := provider.Prompts()
	if prompts[0].Hints.Temperature != 0.1 {
		t.Errorf("first temperature = %v, want 0.1", prompts[0].Hints.Temperature)
	}
	if prompts[len(prompts)-1].Hints.Temperature != 0.3 {
		t.Errorf("last temperature = %v, want 0.3", prompts[len(prompts)-1].Hints.Temperature)
	}
}

// silentProvider answers without reporting usage.
type silentProvider struct{}

func (silentProvider) Name() string { return "silent" }

func (silentProvider) GenerateJSON(ctx context.Context, req Request) (Response, error) {
	return Response{RawJSON: []byte(`{"message": "hi", "formal": false}`)}, nil
}

func TestGenerateEstimatesUsageWhenProviderOmitsIt(t *testing.T) {
	g := NewGenerator(silentProvider{})

	prompt := "say hello to the customer"
	_, info, err := Generate[greeting](context.Background(), g, "greeting", prompt, Hints{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if info.InputTokens != CountTokens(prompt) {
		t.Errorf("InputTokens = %d, want the token count estimate %d", info.InputTokens, CountTokens(prompt))
	}
	if info.OutputTokens <= 0 {
		t.Errorf("OutputTokens = %d, want > 0", info.OutputTokens)
	}
}

func TestGeneratePassesSchemaToProvider(t *testing.T) {
	provider := NewStaticProvider()
	provider.Enqueue("greeting", `{"message": "x", "formal": false}`)
	g := NewGenerator(provider)

	if _, _, err := Generate[greeting](context.Background(), g, "greeting", "p", Hints{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := provider.Prompts()[0]
	if !strings.Contains(string(req.SchemaJSON), `"message"`) {
		t.Errorf("schema JSON missing message property: %s", req.SchemaJSON)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading chatter", "Sure, here you go: {\"a\":1}", `{"a":1}`},
		{"trailing chatter", "{\"a\":1}\nHope this helps!", `{"a":1}`},
		{"array", `[1, 2]`, `[1, 2]`},
		{"no json", "just words", "just words"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(ExtractJSON(tc.in)); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
