package engine

import (
	"context"

	"github.com/leadpipe/leadpipe/internal/model"
	"github.com/leadpipe/leadpipe/internal/service"
)

// Verifier defines the contract for LLM-assisted pair adjudication. The
// implementation is the only non-deterministic dependency of the engine and is
// replaced by a deterministic stub in tests.
type Verifier interface {
	Verify(ctx context.Context, a, b *model.Business) (service.Verdict, error)
}
