package port

import (
	"context"

	"github.com/arklim/platform-authz/internal/core/domain"
)

// ChangePublisher delivers change notifications to every engine instance.
type ChangePublisher interface {
	Publish(ctx context.Context, kind domain.ChangeKind, ids []int64) error
}

// ChangeHandler consumes raw messages received on a change channel.
type ChangeHandler interface {
	HandleMessage(ctx context.Context, channel string, payload []byte) error
}
