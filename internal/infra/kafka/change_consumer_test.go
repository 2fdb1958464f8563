package kafka

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/platform-authz/internal/core/domain"
)

type recordedMessage struct {
	channel string
	payload string
}

type handlerStub struct {
	mu       sync.Mutex
	messages []recordedMessage
	err      error
}

func (h *handlerStub) HandleMessage(_ context.Context, channel string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, recordedMessage{channel: channel, payload: string(payload)})
	return h.err
}

type sessionStub struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	claims map[string][]int32
	marked []int64
}

func (s *sessionStub) Context() context.Context { return s.ctx }

func (s *sessionStub) Claims() map[string][]int32 { return s.claims }

func (s *sessionStub) MemberID() string { return "member-1" }

func (s *sessionStub) GenerationID() int32 { return 1 }

func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type claimStub struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *claimStub) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestChangeConsumerTopics(t *testing.T) {
	names := domain.ChannelNames{domain.ChangeRole: "RoleChangeEvent"}
	consumer := NewChangeConsumerFromGroup(nil, "authz", names, &handlerStub{}, zaptest.NewLogger(t))

	topics := consumer.Topics()
	if len(topics) != len(domain.ChangeKinds()) {
		t.Fatalf("expected one topic per change kind, got %v", topics)
	}
	if topics[0] != "authz.RoleChangeEvent" {
		t.Fatalf("expected renamed role topic first, got %q", topics[0])
	}
	if topics[len(topics)-1] != "authz.health-check" {
		t.Fatalf("expected health-check topic last, got %q", topics[len(topics)-1])
	}
}

func TestChangeConsumerConsumeClaim(t *testing.T) {
	handler := &handlerStub{}
	consumer := NewChangeConsumerFromGroup(nil, "authz", nil, handler, zaptest.NewLogger(t))

	claim := &claimStub{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "authz.user-change", Offset: 7, Value: []byte("[1,2]")}
	claim.messages <- &sarama.ConsumerMessage{Topic: "authz.role-change", Offset: 8, Value: []byte("[9]")}
	close(claim.messages)

	session := &sessionStub{ctx: context.Background()}
	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}

	if len(handler.messages) != 2 {
		t.Fatalf("expected two handled messages, got %d", len(handler.messages))
	}
	if handler.messages[0] != (recordedMessage{channel: "user-change", payload: "[1,2]"}) {
		t.Fatalf("unexpected first message %+v", handler.messages[0])
	}
	if handler.messages[1].channel != "role-change" {
		t.Fatalf("unexpected second channel %q", handler.messages[1].channel)
	}
	if len(session.marked) != 2 || session.marked[0] != 7 || session.marked[1] != 8 {
		t.Fatalf("expected offsets 7 and 8 marked, got %v", session.marked)
	}
}

func TestChangeConsumerMarksFailedMessages(t *testing.T) {
	handler := &handlerStub{err: errors.New("malformed")}
	consumer := NewChangeConsumerFromGroup(nil, "", nil, handler, zaptest.NewLogger(t))

	claim := &claimStub{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "token-revoke", Offset: 3, Value: []byte("not-json")}
	close(claim.messages)

	session := &sessionStub{ctx: context.Background()}
	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected poison message to be marked, got %v", session.marked)
	}
	if handler.messages[0].channel != "token-revoke" {
		t.Fatalf("expected unprefixed channel, got %q", handler.messages[0].channel)
	}
}

func TestChangeConsumerStopsOnSessionEnd(t *testing.T) {
	consumer := NewChangeConsumerFromGroup(nil, "authz", nil, &handlerStub{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &claimStub{messages: make(chan *sarama.ConsumerMessage)}
	if err := consumer.ConsumeClaim(&sessionStub{ctx: ctx}, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}
}

func TestChangeConsumerRejectsNilMessage(t *testing.T) {
	consumer := NewChangeConsumerFromGroup(nil, "authz", nil, &handlerStub{}, nil)
	if err := consumer.HandleMessage(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestChangeConsumerReadyAfterEveryPartitionClaimed(t *testing.T) {
	consumer := NewChangeConsumerFromGroup(nil, "authz", nil, &handlerStub{}, zaptest.NewLogger(t))
	ready := make(chan struct{})
	consumer.ready = ready

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := &sessionStub{ctx: ctx, claims: map[string][]int32{
		"authz.user-change": {0, 1},
		"authz.role-change": {0},
	}}
	if err := consumer.Setup(session); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}

	isReady := func() bool {
		select {
		case <-ready:
			return true
		default:
			return false
		}
	}
	if isReady() {
		t.Fatalf("ready before any partition is consumed")
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		claim := &claimStub{messages: make(chan *sarama.ConsumerMessage)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = consumer.ConsumeClaim(session, claim)
		}()
		if i < 2 {
			// Wait for this claim loop to start.
			for consumer.unclaimed.Load() != int64(2-i) {
				runtime.Gosched()
			}
			if isReady() {
				t.Fatalf("ready with %d partitions still unclaimed", 2-i)
			}
		}
	}

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatalf("ready not signalled after every partition was claimed")
	}
	cancel()
	wg.Wait()
}

func TestChangeConsumerReadyWithoutPartitions(t *testing.T) {
	consumer := NewChangeConsumerFromGroup(nil, "authz", nil, &handlerStub{}, nil)
	ready := make(chan struct{})
	consumer.ready = ready

	if err := consumer.Setup(&sessionStub{ctx: context.Background()}); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	select {
	case <-ready:
	default:
		t.Fatalf("expected ready when the session has no partitions")
	}
	// A later rebalance must not close ready twice.
	if err := consumer.Setup(&sessionStub{ctx: context.Background()}); err != nil {
		t.Fatalf("second Setup returned error: %v", err)
	}
}
