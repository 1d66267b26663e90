// Package eventbus provides the typed publish/subscribe abstraction the
// Orchestrator uses to broadcast session progress: a bounded, wildcard
// subject space with an in-memory backend for single-instance deployments
// and a NATS-backed one for multi-instance deployments, behind one
// interface so callers never know which is in use.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapacity is the default per-subscription buffer size. When a
// subscription falls behind, the oldest buffered non-terminal event is
// dropped to make room; terminal events are never dropped.
const DefaultQueueCapacity = 256

// Event represents a message on the event bus.
//
// Terminal marks events that represent a session's outcome (step finished,
// step failed, session reached a terminal state) as opposed to streaming
// progress updates. Bounded subscriber queues drop the oldest non-terminal
// event to make room rather than ever dropping a terminal one.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // Service that produced the event
	Terminal  bool                   `json:"terminal"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the backend-agnostic event bus contract shared by the in-memory
// and NATS implementations: publish, subscribe, close, nothing more.
// Neither backend needs queue-group load balancing or request/reply — every
// orcad subject has exactly one subscriber (one gateway connection per
// session) and every turn's output is delivered by publish, never awaited
// as a reply.
type Bus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}
