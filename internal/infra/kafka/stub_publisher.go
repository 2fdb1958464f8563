package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// StubPublisher logs change notices instead of sending them. Used when no transport is configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly change publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// Publish logs the notice and always succeeds.
func (p *StubPublisher) Publish(_ context.Context, kind domain.ChangeKind, ids []int64) error {
	p.logger.Info("Stub change published",
		zap.String("kind", string(kind)),
		zap.Int64s("ids", ids),
	)
	return nil
}

var _ port.ChangePublisher = (*StubPublisher)(nil)
