// Package bus abstracts the event transport behind publish/subscribe so
// the relay does not assume a specific broker. The production transport
// is Azure Storage queues; tests use the in-memory transport.
package bus

import (
	"context"
	"fmt"
)

// Handler processes one delivered message. Returning an error signals
// the transport that delivery failed; what happens next depends on the
// configured guarantee.
type Handler func(ctx context.Context, payload []byte) error

// Publisher sends a message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers messages from a topic to a handler until ctx is
// canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// Guarantee is the delivery guarantee a transport provides to handlers.
type Guarantee string

const (
	// AtMostOnce acknowledges a message before handling it: a handler
	// failure drops the message.
	AtMostOnce Guarantee = "at-most-once"
	// AtLeastOnce acknowledges only after the handler succeeds: a
	// failed or interrupted delivery is redelivered, so handlers must
	// tolerate duplicates.
	AtLeastOnce Guarantee = "at-least-once"
)

// ParseGuarantee validates a guarantee read from configuration.
func ParseGuarantee(s string) (Guarantee, error) {
	switch Guarantee(s) {
	case AtMostOnce, AtLeastOnce:
		return Guarantee(s), nil
	case "":
		return AtLeastOnce, nil
	}
	return "", fmt.Errorf("unknown delivery guarantee %q", s)
}
