// Package domain contains core concepts of the live queue.
// This file defines Participant identities and the presence projection.
// No runtime, network, or UI logic should be added here.
package domain

// User is the identity a credential resolves to.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

// OnlineUser is the public roster entry of a connected user.
// The email is never exposed to other participants.
type OnlineUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (u User) Online() OnlineUser {
	return OnlineUser{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

// PresenceEntry is the roster slot of a user. Only the most recent connection
// is kept here; delivery to every connection goes through the registry index.
type PresenceEntry struct {
	ConnectionID ConnectionID
	User         OnlineUser
}

// Stats is a point-in-time view of who is connected.
type Stats struct {
	Connections int          `json:"connections"`
	OnlineUsers int          `json:"connectedUsers"`
	Users       []OnlineUser `json:"users"`
}
