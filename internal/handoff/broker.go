package handoff

import (
	"context"
	"sync"

	"credential-authorizer/internal/metrics"

	"go.uber.org/zap"
)

// Payload is the outcome of one redirect. Exactly one of Code or Error is
// set. State is the raw token the redirect carried, so the receiving flow can
// tell a current delivery from a stale one.
type Payload struct {
	Code             string `json:"code,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Tab              string `json:"tab"`
	State            string `json:"state"`
}

// Message is what subscribers of a session receive.
type Message struct {
	HandlerRef string  `json:"handler_ref"`
	Payload    Payload `json:"payload"`
}

// Broker delivers payloads to the process that owns a session. Delivery is
// best effort and at most once per subscriber; publishing to a session
// nobody owns is not an error.
type Broker interface {
	Subscribe(sessionID string, fn func(Message)) (cancel func(), err error)
	Publish(ctx context.Context, sessionID, handlerRef string, payload Payload) error
}

// MemoryBroker is a Broker for a single process.
type MemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]func(Message)
	next    uint64
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(m *metrics.Metrics, logger *zap.Logger) *MemoryBroker {
	return &MemoryBroker{
		subs:    make(map[string]map[uint64]func(Message)),
		metrics: m,
		logger:  logger,
	}
}

// Subscribe registers fn for messages published to sessionID.
func (b *MemoryBroker) Subscribe(sessionID string, fn func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]func(Message))
	}
	b.subs[sessionID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[sessionID], id)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
		})
	}, nil
}

// Publish hands the payload to every current subscriber of sessionID.
func (b *MemoryBroker) Publish(_ context.Context, sessionID, handlerRef string, payload Payload) error {
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.subs[sessionID]))
	for _, fn := range b.subs[sessionID] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	if len(fns) == 0 {
		b.logger.Info("Dropped handoff message for absent session", zap.String("session_id", sessionID))
		b.metrics.Handoff("dropped")
		return nil
	}

	msg := Message{HandlerRef: handlerRef, Payload: payload}
	for _, fn := range fns {
		fn(msg)
	}
	b.metrics.Handoff("published")
	return nil
}
