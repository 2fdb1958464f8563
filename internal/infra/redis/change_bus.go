package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// ChangeBus carries change notices over Redis pub/sub. Every subscribed instance receives every notice.
type ChangeBus struct {
	client *redis.Client
	names  domain.ChannelNames
	logger *zap.Logger
}

// NewChangeBus constructs a bus over client using the configured channel names.
func NewChangeBus(client *redis.Client, names domain.ChannelNames, logger *zap.Logger) *ChangeBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeBus{client: client, names: names, logger: logger}
}

var _ port.ChangePublisher = (*ChangeBus)(nil)

// Publish sends ids on the channel of kind.
func (b *ChangeBus) Publish(ctx context.Context, kind domain.ChangeKind, ids []int64) error {
	payload, err := domain.EncodeIDs(ids)
	if err != nil {
		return err
	}
	channel := b.names.Name(kind)
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks delivering notices to handler until ctx is cancelled.
// ready, when non-nil, is closed once the subscription is confirmed by the server.
func (b *ChangeBus) Subscribe(ctx context.Context, handler port.ChangeHandler, ready chan<- struct{}) error {
	channels := b.names.All()
	pubsub := b.client.Subscribe(ctx, channels...)
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("close redis subscription", zap.Error(err))
		}
	}()

	// The first reply confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	b.logger.Info("subscribed to change channels", zap.Strings("channels", channels))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := handler.HandleMessage(ctx, msg.Channel, []byte(msg.Payload)); err != nil {
				b.logger.Warn("drop change notice",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
			}
		}
	}
}
