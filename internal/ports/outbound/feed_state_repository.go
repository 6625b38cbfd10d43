package outbound

import (
	"context"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
)

// FeedStateRepository persists confirmed feed state so a restart can
// bootstrap from what was last published.
type FeedStateRepository interface {
	// LoadConfirmed returns every persisted confirmed state.
	LoadConfirmed(ctx context.Context) ([]entity.FeedNetworkState, error)

	// SaveConfirmed upserts confirmed states. Rows never move backwards in time.
	SaveConfirmed(ctx context.Context, states []entity.FeedNetworkState) error
}
