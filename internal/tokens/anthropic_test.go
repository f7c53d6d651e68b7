package tokens

import "testing"

func TestAnthropicCounter_SupportsModel(t *testing.T) {
	c := NewAnthropicCounter("test-key")

	tests := []struct {
		model    string
		expected bool
	}{
		{"claude-3-5-sonnet-20241022", true},
		{"claude-3-opus-20240229", true},
		{"gpt-4o", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := c.SupportsModel(tt.model); got != tt.expected {
				t.Errorf("SupportsModel(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}
