package engine

import (
	"context"
	"sync"

	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// MockVerifier is a test implementation of the Verifier interface. It returns
// deterministic verdicts configured per pair, and records every call.
type MockVerifier struct {
	verdicts map[string]service.Verdict
	err      error
	calls    []MockVerifierCall
	fallback service.Verdict
	mu       sync.Mutex
}

// MockVerifierCall records details of a verification request.
type MockVerifierCall struct {
	BusinessID1 string
	BusinessID2 string
}

// NewMockVerifier creates a new mock verifier. Unconfigured pairs get a
// low-confidence non-duplicate verdict.
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{
		verdicts: make(map[string]service.Verdict),
		fallback: service.Verdict{IsDuplicate: false, Confidence: 0.5, Reason: "unconfigured pair"},
	}
}

// SetVerdict configures the verdict returned for an unordered id pair.
func (m *MockVerifier) SetVerdict(idA, idB string, verdict service.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id1, id2 := model.OrderPair(idA, idB)
	m.verdicts[id1+"|"+id2] = verdict
}

// SetFallback configures the verdict returned for unconfigured pairs.
func (m *MockVerifier) SetFallback(verdict service.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = verdict
}

// SetError makes every subsequent call fail with the given error.
func (m *MockVerifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Verify returns the configured verdict for the pair.
func (m *MockVerifier) Verify(_ context.Context, a, b *model.Business) (service.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id1, id2 := model.OrderPair(a.ID, b.ID)
	m.calls = append(m.calls, MockVerifierCall{BusinessID1: id1, BusinessID2: id2})

	if m.err != nil {
		return service.Verdict{}, m.err
	}
	if verdict, ok := m.verdicts[id1+"|"+id2]; ok {
		return verdict, nil
	}
	return m.fallback, nil
}

// Calls returns the recorded verification requests.
func (m *MockVerifier) Calls() []MockVerifierCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockVerifierCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}
