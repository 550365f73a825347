package port

import (
	"context"

	"github.com/arturoeanton/codequery/internal/domain"
)

// Acquirer produces a local readable tree for a repository reference. A
// second call for the same reference updates the existing workspace in place.
type Acquirer interface {
	Acquire(ctx context.Context, ref domain.RepoRef) (*domain.Workspace, error)
}
