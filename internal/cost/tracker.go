// Package cost tracks LLM spend against a budget ceiling. The tracker is the
// concrete budget collaborator injected into the verifier; the engine core
// never touches it directly.
package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/service"
)

// Pricing holds per-million-token rates in dollars.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPricing is used when a model has no explicit rate configured.
var defaultPricing = Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}

// Tracker is an in-memory budget ledger. It implements service.CostRecorder:
// once accumulated spend reaches the ceiling, further calls are rejected with
// common.ErrBudgetExceeded, which the verifier reads as unavailability.
type Tracker struct {
	pricing map[string]Pricing
	ceiling float64
	spent   float64
	calls   int
	mu      sync.Mutex
}

// NewTracker creates a tracker with the given ceiling in dollars. A ceiling of
// zero or less means unlimited.
func NewTracker(ceiling float64) *Tracker {
	return &Tracker{
		ceiling: ceiling,
		pricing: make(map[string]Pricing),
	}
}

// SetPricing configures the token rates for a model.
func (t *Tracker) SetPricing(model string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = p
}

// CheckBudget reports whether another call may be made without first making
// it. The verifier consults this before spending tokens, so an exhausted
// budget short-circuits the network round trip it would otherwise pay for.
func (t *Tracker) CheckBudget(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overCeilingLocked()
}

// RecordCall records one completed LLM call. Once accumulated spend has
// reached the ceiling the call is rejected; the call that crosses the ceiling
// is itself still recorded, so rejection starts with the next one.
func (t *Tracker) RecordCall(_ context.Context, call service.LLMCallCost) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.overCeilingLocked(); err != nil {
		return err
	}

	p, ok := t.pricing[call.Model]
	if !ok {
		p = defaultPricing
	}

	t.spent += float64(call.InputTokens)/1e6*p.InputPerMTok +
		float64(call.OutputTokens)/1e6*p.OutputPerMTok
	t.calls++
	return nil
}

func (t *Tracker) overCeilingLocked() error {
	if t.ceiling > 0 && t.spent >= t.ceiling {
		return fmt.Errorf("%w: spent $%.4f of $%.4f", common.ErrBudgetExceeded, t.spent, t.ceiling)
	}
	return nil
}

// Spent returns the accumulated spend in dollars.
func (t *Tracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Calls returns the number of recorded calls.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
