package workers

import (
	"context"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/domain/event"
	"log/slog"
	"sync"

	"github.com/abadojack/whatlanggo"
)

var _ contract.Worker = (*ModerationWorker)(nil)

// ModerationWorker sits between the publish queue and the fan-out.
// It is a single consumer, so events leave in the order they arrived.
type ModerationWorker struct {
	moderator contract.Moderator
	published <-chan event.Event
	moderated chan<- event.Event
	log       *slog.Logger

	mu   sync.Mutex
	held []event.Event
}

func NewModerationWorker(moderator contract.Moderator,
	published <-chan event.Event, moderated chan<- event.Event,
	log *slog.Logger) *ModerationWorker {
	return &ModerationWorker{
		moderator: moderator,
		published: published, moderated: moderated, log: log,
	}
}

func (w *ModerationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping moderation")
			return nil
		case evt, ok := <-w.published:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			sanitized := w.Sanitize(evt)
			select {
			case <-ctx.Done():
				w.mu.Lock()
				w.held = append(w.held, sanitized)
				w.mu.Unlock()
				w.log.Debug("Context done, stopping moderation", "held", 1)
				return nil
			case w.moderated <- sanitized:
			}
		}
	}
}

// TakeHeld returns the sanitized events the worker was still holding when its
// context ended. They come after everything already on the moderated channel.
func (w *ModerationWorker) TakeHeld() []event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	held := w.held
	w.held = nil
	return held
}

// Sanitize returns a copy of evt whose free text has been censored.
// Payloads carrying no user text go through untouched.
func (w *ModerationWorker) Sanitize(evt event.Event) event.Event {
	switch p := evt.Payload.(type) {
	case domain.Question:
		p.Content = w.censor(evt, p.Content)
		return evt.WithPayload(p)
	case *domain.Question:
		q := *p
		q.Content = w.censor(evt, q.Content)
		return evt.WithPayload(q)
	case domain.Task:
		p.Title = w.censor(evt, p.Title)
		p.Description = w.censor(evt, p.Description)
		return evt.WithPayload(p)
	case *domain.Task:
		t := *p
		t.Title = w.censor(evt, t.Title)
		t.Description = w.censor(evt, t.Description)
		return evt.WithPayload(t)
	case domain.DeletedItem:
		p.Preview = w.censor(evt, p.Preview)
		return evt.WithPayload(p)
	default:
		return evt
	}
}

func (w *ModerationWorker) censor(evt event.Event, text string) string {
	if text == "" {
		return text
	}
	sanitized, found := w.moderator.Censor(text)
	if len(found) > 0 {
		w.log.Info("Censored item text",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"actor", evt.Actor,
			"lang", whatlanggo.Detect(text).Lang.Iso6391(),
			"words", len(found))
	}
	return sanitized
}
