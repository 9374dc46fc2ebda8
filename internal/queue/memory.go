package queue

import (
	"context"
	"fmt"

	"loancheck-backend/internal/shared/telemetry"
)

// MemoryClient is an in-process queue for local development. Messages are
// buffered on a channel and consumed by Run in a background goroutine, so
// the API process can drive chain steps without an SQS queue.
type MemoryClient struct {
	ch chan StepMessage
}

// NewMemoryClient constructs an in-process queue with the given buffer size.
func NewMemoryClient(buffer int) *MemoryClient {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryClient{ch: make(chan StepMessage, buffer)}
}

// Send enqueues a message. It fails instead of blocking when the buffer is full.
func (m *MemoryClient) Send(ctx context.Context, msg StepMessage) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("memory queue full (buffer %d)", cap(m.ch))
	}
}

// Run consumes messages until ctx is cancelled, invoking handler for each.
// Handler errors are logged and the message dropped; the in-process queue
// has no redelivery.
func (m *MemoryClient) Run(ctx context.Context, handler func(context.Context, StepMessage) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.ch:
			if err := handler(ctx, msg); err != nil {
				telemetry.Error("memory queue handler failed", map[string]any{
					"verification_id": msg.VerificationID,
					"current_index":   msg.CurrentIndex,
					"error":           err.Error(),
				})
			}
		}
	}
}

var _ Client = (*MemoryClient)(nil)
