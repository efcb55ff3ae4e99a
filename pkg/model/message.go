package model

import "time"

// ChatUser identifies a participant as seen on the wire. Guests carry a
// synthetic id and Guest=true so clients can render them differently.
type ChatUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Username string `json:"username,omitempty"`
	Guest    bool   `json:"guest"`
}

// ChatMessage is one public-room message. Immutable once created.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	User      ChatUser  `json:"user"`
}

// DirectMessage is one 1:1 message. Immutable once created; both parties'
// thread views include it.
type DirectMessage struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Sender    ChatUser  `json:"sender"`
	Recipient ChatUser  `json:"recipient"`
}

// PresenceStatus is the online/offline record for one user id. Online is
// derived from live connection count, never a manual toggle. LastSeenAt is
// nil until the user has gone offline at least once.
type PresenceStatus struct {
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
