package tokens

import (
	"context"
	"testing"

	"github.com/chronicle-run/chronicle/internal/domain"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name      string
		req       *Request
		minTokens int
		maxTokens int
	}{
		{
			name: "simple message",
			req: &Request{
				Model:    "test-model",
				Messages: []domain.Message{{Role: "user", Content: "Hello, how are you?"}},
			},
			minTokens: 5,
			maxTokens: 15,
		},
		{
			name: "with system message",
			req: &Request{
				Model:    "test-model",
				System:   "You are a helpful assistant.",
				Messages: []domain.Message{{Role: "user", Content: "Hello"}},
			},
			minTokens: 8,
			maxTokens: 20,
		},
		{
			name: "multiple messages",
			req: &Request{
				Model: "test-model",
				Messages: []domain.Message{
					{Role: "user", Content: "What is 2+2?"},
					{Role: "assistant", Content: "2+2 equals 4."},
					{Role: "user", Content: "Thanks!"},
				},
			},
			minTokens: 10,
			maxTokens: 30,
		},
		{
			name: "with tools",
			req: &Request{
				Model:    "test-model",
				Messages: []domain.Message{{Role: "user", Content: "Calculate something"}},
				Tools: []domain.ToolDefinition{
					{Type: "function", Function: domain.FunctionDef{Name: "calculator", Description: "A simple calculator"}},
				},
			},
			minTokens: 10,
			maxTokens: 40,
		},
		{
			name:      "empty request",
			req:       &Request{Model: "test-model"},
			minTokens: 0,
			maxTokens: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.CountTokens(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if !resp.Estimated {
				t.Error("expected Estimated to be true for estimator")
			}
			if resp.InputTokens < tt.minTokens || resp.InputTokens > tt.maxTokens {
				t.Errorf("CountTokens() = %d, want between %d and %d", resp.InputTokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestEstimator_SupportsModel(t *testing.T) {
	e := NewEstimator()
	for _, model := range []string{"gpt-4", "claude-3", "unknown-model", ""} {
		if !e.SupportsModel(model) {
			t.Errorf("SupportsModel(%q) = false, want true", model)
		}
	}
}

func TestOpenAICounter_CountTokens(t *testing.T) {
	c := NewOpenAICounter()

	tests := []struct {
		name      string
		req       *Request
		minTokens int
		maxTokens int
	}{
		{
			name:      "simple message",
			req:       &Request{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "Hello, how are you today?"}}},
			minTokens: 8,
			maxTokens: 20,
		},
		{
			name:      "code snippet",
			req:       &Request{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "def hello(): print('Hello, World!')"}}},
			minTokens: 10,
			maxTokens: 30,
		},
		{
			name:      "common words",
			req:       &Request{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "The quick brown fox jumps over the lazy dog."}}},
			minTokens: 12,
			maxTokens: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.CountTokens(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if resp.Estimated {
				t.Error("expected Estimated to be false for tiktoken-backed counts")
			}
			if resp.InputTokens < tt.minTokens || resp.InputTokens > tt.maxTokens {
				t.Errorf("CountTokens() = %d, want between %d and %d", resp.InputTokens, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestOpenAICounter_SupportsModel(t *testing.T) {
	c := NewOpenAICounter()

	tests := []struct {
		model    string
		expected bool
	}{
		{"gpt-4o", true},
		{"gpt-4-turbo", true},
		{"gpt-3.5-turbo", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"text-embedding-ada-002", true},
		{"claude-3-sonnet", false},
		{"unknown-model", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.SupportsModel(tt.model); got != tt.expected {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}

func TestOpenAICounter_ToolsAndToolCalls(t *testing.T) {
	c := NewOpenAICounter()
	req := &Request{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "user", Content: "What's the weather in Boston?"},
			{Role: "assistant", ToolCalls: []domain.ToolCall{
				domain.NewToolCall("call_1", "function", "get_weather", `{"city":"Boston"}`),
			}},
			{Role: "tool", ToolCallID: "call_1", Content: "72F and sunny"},
		},
		Tools: []domain.ToolDefinition{
			{Type: "function", Function: domain.FunctionDef{Name: "get_weather", Description: "Look up current weather", Parameters: map[string]any{"type": "object"}}},
		},
	}
	resp, err := c.CountTokens(context.Background(), req)
	if err != nil {
		t.Fatalf("CountTokens() error = %v", err)
	}
	if resp.InputTokens <= 0 {
		t.Error("expected positive token count")
	}
}

func TestRegistry_CountTokens(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewOpenAICounter())

	tests := []struct {
		name  string
		model string
	}{
		{"gpt model uses OpenAI counter", "gpt-4o"},
		{"unknown model uses fallback", "unknown-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Model: tt.model, Messages: []domain.Message{{Role: "user", Content: "Hello"}}}
			resp, err := registry.CountTokens(context.Background(), req)
			if err != nil {
				t.Fatalf("CountTokens() error = %v", err)
			}
			if resp.InputTokens <= 0 {
				t.Error("expected positive token count")
			}
		})
	}
}

func TestRegistry_GetCounter(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewOpenAICounter())

	if _, ok := registry.GetCounter("gpt-4o").(*OpenAICounter); !ok {
		t.Error("expected OpenAI counter for gpt-4o")
	}
	if _, ok := registry.GetCounter("unknown-model").(*Estimator); !ok {
		t.Error("expected Estimator fallback for unknown model")
	}
}

func TestModelMatcher(t *testing.T) {
	matcher := NewModelMatcher(
		[]string{"gpt-", "claude-"},
		[]string{"davinci", "curie"},
	)

	tests := []struct {
		model    string
		expected bool
	}{
		{"gpt-4", true},
		{"gpt-3.5-turbo", true},
		{"claude-3-opus", true},
		{"davinci", true},
		{"curie", true},
		{"text-davinci-003", false},
		{"llama-2", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := matcher.Matches(tt.model); got != tt.expected {
				t.Errorf("Matches(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}

func TestRequestFromCanonical_SplitsSystemMessage(t *testing.T) {
	req := &domain.CanonicalRequest{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "Hi"},
		},
	}
	out := RequestFromCanonical(req)
	if out.System != "Be terse." {
		t.Errorf("System = %q, want %q", out.System, "Be terse.")
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Errorf("Messages = %+v, want single user message", out.Messages)
	}
}

func BenchmarkOpenAICounter_CountTokens(b *testing.B) {
	c := NewOpenAICounter()
	req := &Request{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "system", Content: "You are a helpful assistant that provides detailed answers."},
			{Role: "user", Content: "Can you explain quantum computing in simple terms?"},
		},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.CountTokens(context.Background(), req)
	}
}

func BenchmarkEstimator_CountTokens(b *testing.B) {
	e := NewEstimator()
	req := &Request{
		Model: "test-model",
		Messages: []domain.Message{
			{Role: "system", Content: "You are a helpful assistant that provides detailed answers."},
			{Role: "user", Content: "Can you explain quantum computing in simple terms?"},
		},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.CountTokens(context.Background(), req)
	}
}
