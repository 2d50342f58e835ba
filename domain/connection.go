package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionID identifies one live transport session.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func (c ConnectionID) String() string {
	return string(c)
}

// Connection is an authenticated transport session.
// It lives exactly as long as the underlying socket and is never persisted.
type Connection struct {
	ID          ConnectionID
	User        User
	ConnectedAt time.Time
}
