package types

import "testing"

func TestNewUsage(t *testing.T) {
	if got := NewUsage(TokenUsage{}); got != nil {
		t.Fatalf("expected nil usage, got %+v", got)
	}

	got := NewUsage(TokenUsage{InputTokens: 120, OutputTokens: 48, TotalTokens: 168})
	if got == nil {
		t.Fatal("expected usage")
	}
	if got.Summary() != "120 in / 48 out" {
		t.Fatalf("Summary() = %q", got.Summary())
	}
}
