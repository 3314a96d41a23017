// Package messagequeue defines the event port for decision, payment and
// feedback events, with their payload schemas.
package messagequeue

import "context"

// Handler processes one event. The context carries the publisher's request
// and tenant ids. A returned error triggers redelivery until the retry limit,
// after which the event is dead-lettered.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes and consumes events.
type Queue interface {
	// Publish validates data against the subject schema and sends it.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a durable handler for subject. The returned
	// function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects published and consumed by SpendPilot.
const (
	SubjectDecisionCompleted = "decisions.completed"
	SubjectPaymentExecuted   = "payments.executed"
	SubjectPaymentFailed     = "payments.failed"
	SubjectFeedbackSubmitted = "feedback.submitted"
)
