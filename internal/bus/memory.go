package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process transport. Publish dispatches to every
// registered handler synchronously in the caller's goroutine, which
// makes event flows directly assertable in tests.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	sent     map[string][][]byte
}

// NewMemoryBus creates an empty in-process transport.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		sent:     make(map[string][][]byte),
	}
}

// Publish records the payload and dispatches it to every handler
// registered for the topic. The first handler error is returned.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.sent[topic] = append(b.sent[topic], append([]byte(nil), payload...))
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	var first error
	for _, h := range hs {
		if err := h(ctx, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Subscribe registers h for the topic and returns immediately.
func (b *MemoryBus) Subscribe(_ context.Context, topic string, h Handler) error {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.mu.Unlock()
	return nil
}

// Published returns every payload published to the topic so far.
func (b *MemoryBus) Published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.sent[topic]...)
}
