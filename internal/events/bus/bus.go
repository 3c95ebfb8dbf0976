// Package bus implements the C7 event bus: a publish/subscribe fan-out of
// model.AgentEvents published by the agent manager (C3) and consumed by the
// WebSocket stream. Grounded on the teacher's
// internal/events/bus package, adapted to carry AgentEvent payloads
// directly instead of a generic map[string]interface{} Data field.
package bus

import (
	"context"

	"github.com/kandev/converse/internal/model"
)

// Handler processes one published event.
type Handler func(ctx context.Context, event model.AgentEvent) error

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus fans out AgentEvents to subscribers by subject. Subjects follow
// the convention "agent.<memberID>" for one member's stream and "agent.>"
// (NATS-style wildcard) to observe every member, the same convention the
// teacher's matches/compilePattern supports.
type EventBus interface {
	Publish(ctx context.Context, subject string, event model.AgentEvent) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}

// Subject builds the canonical per-member subject for publishing or
// subscribing to one member's events.
func Subject(memberID string) string {
	return "agent." + memberID
}

// SubjectAll is the wildcard subject matching every member's events.
const SubjectAll = "agent.>"
