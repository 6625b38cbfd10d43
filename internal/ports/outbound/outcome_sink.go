package outbound

import (
	"context"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// OutcomeSink receives the terminal outcome of every submitted plan.
type OutcomeSink interface {
	Publish(ctx context.Context, outcome entity.SubmissionOutcome) error

	// Close closes the sink and releases any resources.
	Close() error
}
