package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// ChangeConsumer feeds change topics into a ChangeHandler.
// Each engine instance must join with its own group id so that every instance sees every notice.
type ChangeConsumer struct {
	group   sarama.ConsumerGroup
	handler port.ChangeHandler
	topics  []string
	// channels maps topic names back to channel names.
	channels map[string]string
	logger   *zap.Logger

	ready     chan<- struct{}
	readyOnce sync.Once
	// unclaimed counts partitions of the current session whose claim loop has not started.
	unclaimed atomic.Int64
}

// NewChangeConsumer joins a consumer group on the brokers in cfg.
func NewChangeConsumer(brokers []string, groupID, prefix string, names domain.ChannelNames, handler port.ChangeHandler, logger *zap.Logger) (*ChangeConsumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return NewChangeConsumerFromGroup(group, prefix, names, handler, logger), nil
}

// NewChangeConsumerFromGroup wraps an existing consumer group.
func NewChangeConsumerFromGroup(group sarama.ConsumerGroup, prefix string, names domain.ChannelNames, handler port.ChangeHandler, logger *zap.Logger) *ChangeConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	channels := names.All()
	topics := make([]string, 0, len(channels))
	byTopic := make(map[string]string, len(channels))
	for _, channel := range channels {
		topic := TopicName(prefix, channel)
		topics = append(topics, topic)
		byTopic[topic] = channel
	}
	return &ChangeConsumer{
		group:    group,
		handler:  handler,
		topics:   topics,
		channels: byTopic,
		logger:   logger,
	}
}

// Topics lists the subscribed topic names.
func (c *ChangeConsumer) Topics() []string {
	return append([]string(nil), c.topics...)
}

// Run consumes until ctx is cancelled, rejoining the group after every rebalance.
// ready is closed once the first session is consuming every assigned partition, which is
// the point from which no published notice can be missed.
func (c *ChangeConsumer) Run(ctx context.Context, ready chan<- struct{}) error {
	c.ready = ready
	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume change topics: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *ChangeConsumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *ChangeConsumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("kafka change consumer joined",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation", session.GenerationID()),
	)
	var partitions int64
	for _, claimed := range session.Claims() {
		partitions += int64(len(claimed))
	}
	c.unclaimed.Store(partitions)
	if partitions == 0 {
		c.signalReady()
	}
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *ChangeConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (c *ChangeConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	// The partition offset is resolved before the claim loop starts.
	if c.unclaimed.Add(-1) == 0 {
		c.signalReady()
	}
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("drop change notice",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *ChangeConsumer) signalReady() {
	c.readyOnce.Do(func() {
		if c.ready != nil {
			close(c.ready)
		}
	})
}

// HandleMessage resolves the channel behind the topic and hands the payload to the change handler.
func (c *ChangeConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	return c.handler.HandleMessage(ctx, c.channelOf(msg.Topic), msg.Value)
}

func (c *ChangeConsumer) channelOf(topic string) string {
	if channel, ok := c.channels[topic]; ok {
		return channel
	}
	return topic
}
