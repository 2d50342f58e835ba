package event

import (
	"fmt"
	"live-queue/domain"
	"time"

	"github.com/google/uuid"
)

// Type tags every message sent to a connection.
type Type string

const (
	UserJoined     Type = "user-joined"
	UserLeft       Type = "user-left"
	RosterSnapshot Type = "roster-snapshot"
	ItemCreated    Type = "item-created"
	ItemUpdated    Type = "item-updated"
	ItemAnswered   Type = "item-answered"
	ItemVoted      Type = "item-voted"
	ItemDeleted    Type = "item-deleted"
	TypingSignal   Type = "typing-signal"
	HeartbeatAck   Type = "heartbeat-ack"

	// Client to server only
	HeartbeatPing        Type = "heartbeat-ping"
	RosterRefreshRequest Type = "roster-refresh-request"
)

var mutationTypes = map[Type]struct{}{
	ItemCreated:  {},
	ItemUpdated:  {},
	ItemAnswered: {},
	ItemVoted:    {},
	ItemDeleted:  {},
}

// IsMutation reports whether t describes a committed change of a queue item.
// Only mutation events may enter the publish pipeline.
func (t Type) IsMutation() bool {
	_, ok := mutationTypes[t]
	return ok
}

// Event is an immutable notification. It is delivered once and then discarded.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Type    Type      `json:"type"`
	Message string    `json:"message,omitempty"`
	Actor   string    `json:"user,omitempty"`
	Payload any       `json:"data,omitempty"`
	At      time.Time `json:"timestamp"`
}

func New(t Type, message string, payload any, actor string, at time.Time) Event {
	return Event{
		ID:      uuid.New(),
		Type:    t,
		Message: message,
		Actor:   actor,
		Payload: payload,
		At:      at.UTC(),
	}
}

// WithPayload returns a copy of e carrying payload.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// Presence is the payload of user-joined and user-left.
type Presence struct {
	User domain.OnlineUser `json:"user"`
}

// Roster is the payload of roster-snapshot.
type Roster struct {
	Users []domain.OnlineUser `json:"users"`
	Count int                 `json:"count"`
}

// Typing is the payload of typing-signal. It has no identity beyond the moment it is relayed.
type Typing struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"user"`
	IsTyping bool      `json:"isTyping"`
	At       time.Time `json:"timestamp"`
}

func NewUserJoined(user domain.OnlineUser, at time.Time) Event {
	return New(UserJoined, fmt.Sprintf("%s connected", user.Name), Presence{User: user}, user.Name, at)
}

func NewUserLeft(user domain.OnlineUser, at time.Time) Event {
	return New(UserLeft, fmt.Sprintf("%s disconnected", user.Name), Presence{User: user}, user.Name, at)
}

func NewRosterSnapshot(users []domain.OnlineUser, at time.Time) Event {
	return New(RosterSnapshot, "", Roster{Users: users, Count: len(users)}, "", at)
}

func NewTypingSignal(user domain.User, isTyping bool, at time.Time) Event {
	return New(TypingSignal, "", Typing{
		UserID:   user.ID,
		UserName: user.Name,
		IsTyping: isTyping,
		At:       at.UTC(),
	}, user.Name, at)
}

func NewHeartbeatAck(at time.Time) Event {
	return New(HeartbeatAck, "", nil, "", at)
}
