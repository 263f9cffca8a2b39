package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// Verifier implements the engine.Verifier interface using LLM APIs. Every
// failure on this path — network, timeout, malformed response, rate limit,
// budget rejection — surfaces as common.ErrVerificationUnavailable so the
// caller can route the pair to review instead of mistaking an outage for a
// verdict.
type Verifier struct {
	client      Client
	recorder    service.CostRecorder
	logger      *slog.Logger
	rateLimiter *rateLimiter
	provider    string
	model       string
	retryOpts   service.RetryOptions
}

// Config holds configuration for the LLM verifier.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewVerifier creates a new LLM-based pair verifier. The cost recorder is the
// budget collaborator's hook and is injected rather than ambient; it may be
// nil when no budget tracking is wanted.
func NewVerifier(cfg Config, recorder service.CostRecorder, logger *slog.Logger) (*Verifier, error) {
	var client Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err = newOpenAIClient(cfg)
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Verifier{
		client:      client,
		recorder:    recorder,
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		provider:    strings.ToLower(cfg.Provider),
		model:       cfg.Model,
	}, nil
}

// Verify submits an ambiguous pair to the judgment service and returns its
// verdict. Retries with bounded exponential backoff are handled here; after
// exhausting them the error reports unavailability rather than defaulting to a
// decision.
func (v *Verifier) Verify(ctx context.Context, a, b *model.Business) (service.Verdict, error) {
	// An already-exhausted budget refuses the call up front, before the rate
	// limiter delay and the network round trip are paid for. RecordCall below
	// remains the authority for calls racing across the ceiling.
	if checker, ok := v.recorder.(service.BudgetChecker); ok {
		if err := checker.CheckBudget(ctx); err != nil {
			return service.Verdict{}, fmt.Errorf("%w: %v", common.ErrVerificationUnavailable, err)
		}
	}

	// Rate limiting
	if err := v.rateLimiter.wait(ctx); err != nil {
		return service.Verdict{}, fmt.Errorf("%w: %v", common.ErrVerificationUnavailable, err)
	}

	prompt := buildVerifyPrompt(a, b)

	var resp VerifyResponse

	err := common.WithRetry(ctx, func() error {
		v.logger.Debug("attempting LLM verification",
			"business_1", a.ID,
			"business_2", b.ID)

		r, verifyErr := v.client.Verify(ctx, prompt)
		if verifyErr != nil {
			v.logger.Warn("LLM verification attempt failed",
				"error", verifyErr,
				"business_1", a.ID,
				"business_2", b.ID)
			return &common.RetryableError{Err: verifyErr, Retryable: true}
		}
		resp = r
		return nil
	}, v.retryOpts)

	if err != nil {
		return service.Verdict{}, fmt.Errorf("%w: %v", common.ErrVerificationUnavailable, err)
	}

	// The budget collaborator observes every completed call. A rejection means
	// the ceiling is reached and reads the same as the service being down.
	if v.recorder != nil {
		if recErr := v.recorder.RecordCall(ctx, service.LLMCallCost{
			Provider:     v.provider,
			Model:        v.model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}); recErr != nil {
			v.logger.Warn("LLM call rejected by budget collaborator",
				"error", recErr,
				"business_1", a.ID,
				"business_2", b.ID)
			return service.Verdict{}, fmt.Errorf("%w: %v", common.ErrVerificationUnavailable, recErr)
		}
	}

	v.logger.Info("pair verified by LLM",
		"business_1", a.ID,
		"business_2", b.ID,
		"is_duplicate", resp.IsDuplicate,
		"confidence", resp.Confidence)

	return service.Verdict{
		IsDuplicate: resp.IsDuplicate,
		Confidence:  resp.Confidence,
		Reason:      resp.Reason,
	}, nil
}

// Close stops background goroutines and cleans up resources.
func (v *Verifier) Close() error {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
	return nil
}

// buildVerifyPrompt creates the judgment prompt from two record summaries.
func buildVerifyPrompt(a, b *model.Business) string {
	return fmt.Sprintf(`Determine whether these two business records describe the same real-world business.

Record A:
%s
Record B:
%s
Consider common variations: legal suffixes (LLC, Inc), street-suffix abbreviations, missing fields, and typos. Two different businesses can share an address (e.g. suites in one building), and one business can appear with different phone numbers.

Respond with ONLY this JSON, no additional text:
{"is_duplicate": <true|false>, "confidence": <0.0-1.0>, "reason": "<one sentence>"}`,
		summarizeBusiness(a),
		summarizeBusiness(b))
}

// summarizeBusiness renders the fields relevant to identity, skipping blanks.
func summarizeBusiness(b *model.Business) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", b.Name)
	if b.Street != "" {
		fmt.Fprintf(&sb, "Address: %s\n", b.Street)
	}
	if b.City != "" || b.State != "" || b.Zip != "" {
		fmt.Fprintf(&sb, "City/State/Zip: %s %s %s\n", b.City, b.State, b.Zip)
	}
	if b.Phone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", b.Phone)
	}
	if b.Email != "" {
		fmt.Fprintf(&sb, "Email: %s\n", b.Email)
	}
	if b.Website != "" {
		fmt.Fprintf(&sb, "Website: %s\n", b.Website)
	}
	return sb.String()
}
