package services

import (
	"context"
	"fmt"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/domain/event"
	"log/slog"
	"time"
)

const previewLength = 50

// NotificationService is what mutation use-cases call once a change is
// durably committed. Calling it before the commit would announce writes that
// may still fail.
type NotificationService struct {
	log       *slog.Logger
	publisher contract.Publisher
	now       func() time.Time
}

func NewNotificationService(log *slog.Logger, publisher contract.Publisher) *NotificationService {
	return &NotificationService{log: log, publisher: publisher, now: time.Now}
}

// PublishDomainEvent hands a committed mutation to the fan-out. The
// human-readable message is derived from the type and payload.
func (s *NotificationService) PublishDomainEvent(ctx context.Context, t event.Type, payload any, actor string) error {
	return s.publish(ctx, t, Describe(t, payload, actor), payload, actor)
}

func (s *NotificationService) QuestionCreated(ctx context.Context, q domain.Question, actor domain.User) error {
	return s.publish(ctx, event.ItemCreated, Describe(event.ItemCreated, q, actor.Name), q, actor.Name)
}

func (s *NotificationService) QuestionUpdated(ctx context.Context, q domain.Question, actor domain.User) error {
	return s.publish(ctx, event.ItemUpdated, Describe(event.ItemUpdated, q, actor.Name), q, actor.Name)
}

func (s *NotificationService) QuestionAnswered(ctx context.Context, q domain.Question, actor domain.User) error {
	return s.publish(ctx, event.ItemAnswered, Describe(event.ItemAnswered, q, actor.Name), q, actor.Name)
}

func (s *NotificationService) QuestionVoted(ctx context.Context, q domain.Question, actor domain.User, hasVoted bool) error {
	q.HasVoted = &hasVoted
	return s.publish(ctx, event.ItemVoted, Describe(event.ItemVoted, q, actor.Name), q, actor.Name)
}

// QuestionDeleted only carries a short preview of the removed content.
func (s *NotificationService) QuestionDeleted(ctx context.Context, id, content string, actor domain.User) error {
	deleted := domain.DeletedItem{ID: id, Preview: Preview(content, previewLength)}
	return s.publish(ctx, event.ItemDeleted, fmt.Sprintf("%s deleted a question", actor.Name), deleted, actor.Name)
}

func (s *NotificationService) TaskCreated(ctx context.Context, t domain.Task, actor domain.User) error {
	return s.publish(ctx, event.ItemCreated, Describe(event.ItemCreated, t, actor.Name), t, actor.Name)
}

func (s *NotificationService) TaskUpdated(ctx context.Context, t domain.Task, actor domain.User) error {
	return s.publish(ctx, event.ItemUpdated, Describe(event.ItemUpdated, t, actor.Name), t, actor.Name)
}

func (s *NotificationService) TaskDeleted(ctx context.Context, id, title string, actor domain.User) error {
	deleted := domain.DeletedItem{ID: id, Preview: title}
	return s.publish(ctx, event.ItemDeleted, fmt.Sprintf("%s deleted the task: %q", actor.Name, title), deleted, actor.Name)
}

func (s *NotificationService) publish(ctx context.Context, t event.Type, message string, payload any, actor string) error {
	evt := event.New(t, message, payload, actor, s.now())
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("Domain event not published", "event_type", t, "actor", actor, "error", err)
		return err
	}
	s.log.Debug("Domain event published", "event_type", t, "event_id", evt.ID, "actor", actor)
	return nil
}

// Describe renders the message shown to participants for a mutation.
func Describe(t event.Type, payload any, actor string) string {
	switch p := payload.(type) {
	case domain.Question:
		switch t {
		case event.ItemCreated:
			return fmt.Sprintf("%s added a new question", actor)
		case event.ItemUpdated:
			return fmt.Sprintf("%s updated a question", actor)
		case event.ItemAnswered:
			return fmt.Sprintf("%s's question was answered", p.AuthorName)
		case event.ItemVoted:
			action := "voted for"
			if p.HasVoted != nil && !*p.HasVoted {
				action = "removed their vote from"
			}
			return fmt.Sprintf("%s %s %s's question", actor, action, p.AuthorName)
		}
	case domain.Task:
		switch t {
		case event.ItemCreated:
			return fmt.Sprintf("%s created a new task: %q", actor, p.Title)
		case event.ItemUpdated:
			action := "updated"
			if p.Completed {
				action = "completed"
			}
			return fmt.Sprintf("%s %s the task: %q", actor, action, p.Title)
		}
	case domain.DeletedItem:
		return fmt.Sprintf("%s deleted an item", actor)
	}
	return ""
}

// Preview truncates s to max runes and marks the cut with "...".
func Preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
