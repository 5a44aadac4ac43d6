// Package types holds the provider-neutral prompt result shapes.
package types

import "fmt"

// PromptResult is the normalized provider response payload.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata carries provider/model identity and optional usage accounting.
type PromptMetadata struct {
	Provider string
	Model    string
	Agent    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
	CacheReadTokens int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheReadTokens == 0
}

// Summary renders usage as a short footer, e.g. "120 in / 48 out".
func (u TokenUsage) Summary() string {
	if u.IsZero() {
		return ""
	}

	return fmt.Sprintf("%d in / %d out", u.InputTokens, u.OutputTokens)
}

// NewUsage returns nil when every counter is zero.
func NewUsage(u TokenUsage) *TokenUsage {
	if u.IsZero() {
		return nil
	}

	return &u
}
