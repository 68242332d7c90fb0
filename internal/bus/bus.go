// Package bus defines the event-bus surface the hub uses to mirror readings
// and raised alerts. The live path (device stream to subscriber) never goes
// through the bus; publishing is best-effort and consumers read back for the
// alert history and the UI.
package bus

import (
	"context"
	"time"
)

// Publisher mirrors one envelope onto a subject. Implementations must be safe
// for concurrent use; the dispatcher publishes from the ingest path.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// PullConsumer reads mirrored envelopes back, typically under a durable name
// so the alert history survives a restart of the consumer.
type PullConsumer interface {
	// Fetch blocks up to wait time, returning up to batch messages.
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error)
}

// Message is one fetched envelope. Term discards it permanently, for payloads
// that will never parse; Nak asks for redelivery.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

