package sink

import (
	"context"
	"live-queue/contract"
	"live-queue/domain/event"
	"live-queue/errors"
	"sync"
)

var _ contract.EventSink = (*ConnectionSink)(nil)

// ConnectionSink is the outbound queue of one live connection.
// Consume is called by the fan-out and never blocks: the socket writer owning
// the connection drains ConnectedUserEvent at its own pace.
type ConnectionSink struct {
	mu                 sync.RWMutex
	closed             bool
	ConnectedUserEvent chan event.Event
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{ConnectedUserEvent: make(chan event.Event, bufferSize)}
}

// Consume enqueues e for the connection.
// It fails with ErrConnectionClosed once Close was called and with
// ErrSendBufferFull when the writer is too far behind.
func (s *ConnectionSink) Consume(ctx context.Context, e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case s.ConnectedUserEvent <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSendBufferFull
	}
}

// Close stops accepting events and closes the channel so the writer drains
// what is left and exits. Safe to call more than once.
func (s *ConnectionSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ConnectedUserEvent)
}
