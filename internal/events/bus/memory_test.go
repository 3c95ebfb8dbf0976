package bus

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/model"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBusIsConnected(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	if !b.IsConnected() {
		t.Fatal("expected a fresh bus to report connected")
	}
}

func TestMemoryEventBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	received := make(chan model.AgentEvent, 1)
	sub, err := b.Subscribe(Subject("member-1"), func(ctx context.Context, event model.AgentEvent) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := model.AgentEvent{Kind: model.EventSessionStarted, MemberID: "member-1"}
	if err := b.Publish(context.Background(), Subject("member-1"), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.MemberID != "member-1" {
			t.Fatalf("expected member-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryEventBusWildcardSubscription(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	received := make(chan model.AgentEvent, 1)
	sub, err := b.Subscribe(SubjectAll, func(ctx context.Context, event model.AgentEvent) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	event := model.AgentEvent{Kind: model.EventTurnCompleted, MemberID: "member-2"}
	if err := b.Publish(context.Background(), Subject("member-2"), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.MemberID != "member-2" {
			t.Fatalf("expected member-2, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wildcard delivery")
	}
}

func TestMemoryEventBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	received := make(chan model.AgentEvent, 1)
	sub, err := b.Subscribe(Subject("member-3"), func(ctx context.Context, event model.AgentEvent) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Fatal("expected subscription to be invalid after unsubscribe")
	}

	if err := b.Publish(context.Background(), Subject("member-3"), model.AgentEvent{Kind: model.EventSessionStarted}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-received:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBusPublishAfterCloseFails(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	b.Close()

	if err := b.Publish(context.Background(), Subject("member-4"), model.AgentEvent{}); err == nil {
		t.Fatal("expected publish on a closed bus to fail")
	}
}
