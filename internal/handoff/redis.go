package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"credential-authorizer/internal/metrics"

	"go.uber.org/zap"
)

const channelPrefix = "oauth:handoff:"

// PubSub is the subset of a pub/sub client RedisBroker relies on.
// cache.Cache implements it over Redis.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisBroker relays handoff messages between processes, so a redirect that
// lands on one instance reaches the flow held by another.
type RedisBroker struct {
	ps      PubSub
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRedisBroker creates a broker over ps.
func NewRedisBroker(ps PubSub, m *metrics.Metrics, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{ps: ps, metrics: m, logger: logger}
}

// Channel returns the pub/sub channel used for sessionID.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

// Subscribe listens on the session's channel until cancel is called.
func (b *RedisBroker) Subscribe(sessionID string, fn func(Message)) (func(), error) {
	msgs, closeFn, err := b.ps.Subscribe(context.Background(), Channel(sessionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe handoff channel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for raw := range msgs {
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				b.logger.Warn("Discarded undecodable handoff message",
					zap.String("session_id", sessionID), zap.Error(err))
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := closeFn(); err != nil {
				b.logger.Warn("Failed to close handoff subscription",
					zap.String("session_id", sessionID), zap.Error(err))
			}
			<-done
		})
	}, nil
}

// Publish sends the payload to the session's channel. Zero receivers means
// the session is gone; the message is dropped silently.
func (b *RedisBroker) Publish(ctx context.Context, sessionID, handlerRef string, payload Payload) error {
	data, err := json.Marshal(Message{HandlerRef: handlerRef, Payload: payload})
	if err != nil {
		return err
	}

	receivers, err := b.ps.Publish(ctx, Channel(sessionID), data)
	if err != nil {
		b.logger.Error("Failed to publish handoff message", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("publish handoff message: %w", err)
	}
	if receivers == 0 {
		b.logger.Info("Dropped handoff message for absent session", zap.String("session_id", sessionID))
		b.metrics.Handoff("dropped")
		return nil
	}
	b.metrics.Handoff("published")
	return nil
}
