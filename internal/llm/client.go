// Package llm adjudicates ambiguous candidate pairs through an external
// language-model judgment service. It is the only network-dependent,
// non-deterministic part of the deduplication pipeline and hides entirely
// behind the Verifier type so tests can substitute a deterministic stub.
package llm

import (
	"context"
)

// Client defines the interface for LLM providers.
type Client interface {
	Verify(ctx context.Context, prompt string) (VerifyResponse, error)
}

// VerifyResponse contains the provider's parsed verdict for a candidate pair.
type VerifyResponse struct {
	Reason      string
	Confidence  float64
	IsDuplicate bool
	Usage       Usage
}

// Usage reports the billable token counts of one completed call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
