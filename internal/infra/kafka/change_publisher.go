package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// Message headers attached to every change notice.
const (
	HeaderEventID   = "event_id"
	HeaderKind      = "change_kind"
	HeaderTraceID   = "trace_id"
	HeaderEmittedAt = "emitted_at"
)

// ChangePublisher sends change notices to one topic per channel.
type ChangePublisher struct {
	producer *Producer
	names    domain.ChannelNames
	logger   *zap.Logger
	now      func() time.Time
}

// NewChangePublisher constructs a publisher on top of the shared producer.
func NewChangePublisher(producer *Producer, names domain.ChannelNames, logger *zap.Logger) *ChangePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangePublisher{
		producer: producer,
		names:    names,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ port.ChangePublisher = (*ChangePublisher)(nil)

// Publish enqueues the id list for kind. Delivery failures surface on Producer.Errors.
func (p *ChangePublisher) Publish(ctx context.Context, kind domain.ChangeKind, ids []int64) error {
	payload, err := domain.EncodeIDs(ids)
	if err != nil {
		return err
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderEventID), Value: []byte(uuid.NewString())},
		{Key: []byte(HeaderKind), Value: []byte(kind)},
		{Key: []byte(HeaderEmittedAt), Value: []byte(p.now().Format(time.RFC3339Nano))},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderTraceID), Value: []byte(sc.TraceID().String())})
	}

	message := &sarama.ProducerMessage{
		Topic:   p.producer.TopicName(p.names.Name(kind)),
		Key:     sarama.StringEncoder(kind),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}

	select {
	case p.producer.Producer().Input() <- message:
		p.logger.Debug("change notice enqueued",
			zap.String("topic", message.Topic),
			zap.Int("ids", len(ids)),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
