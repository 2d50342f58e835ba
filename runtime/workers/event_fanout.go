package workers

import (
	"context"
	"live-queue/contract"
	"live-queue/domain/event"
	"log/slog"
)

var _ contract.Worker = (*EventFanout)(nil)

// EventFanout is the single consumer of published domain events.
// It pops them in FIFO order and hands each one to the broadcaster, so events
// reach every connection in the order mutations were published.
type EventFanout struct {
	log         *slog.Logger
	broadcaster contract.Broadcaster
	domainEvent <-chan event.Event
}

func NewEventFanout(log *slog.Logger, broadcaster contract.Broadcaster, domainEvent <-chan event.Event) *EventFanout {
	return &EventFanout{log: log, broadcaster: broadcaster, domainEvent: domainEvent}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt, ok := <-w.domainEvent:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			w.Fanout(evt)
		}
	}
}

func (w *EventFanout) Fanout(evt event.Event) {
	delivered := w.broadcaster.Broadcast(evt)
	w.log.Debug("Domain event fanned out", "event_type", evt.Type, "event_id", evt.ID, "delivered", delivered)
}
