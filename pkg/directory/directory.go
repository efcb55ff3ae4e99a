// Package directory resolves user ids to known user profiles. A user
// becomes known when they first log in through the api service.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/gocql/gocql"

	"github.com/inkwell-app/realtime/pkg/db"
	"github.com/inkwell-app/realtime/pkg/model"
)

// ErrUnknownUser is returned when an id does not resolve to a known user.
var ErrUnknownUser = errors.New("unknown user")

type Directory interface {
	Lookup(ctx context.Context, userID string) (model.ChatUser, error)
}

// ScyllaDirectory reads profiles from the users table.
type ScyllaDirectory struct {
	session *db.Session
}

func NewScyllaDirectory(session *db.Session) *ScyllaDirectory {
	return &ScyllaDirectory{session: session}
}

func (d *ScyllaDirectory) Lookup(ctx context.Context, userID string) (model.ChatUser, error) {
	var u model.ChatUser
	err := d.session.Query(
		`SELECT id, name, username, avatar FROM users WHERE id = ?`, userID,
	).WithContext(ctx).Scan(&u.ID, &u.Name, &u.Username, &u.Avatar)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.ChatUser{}, ErrUnknownUser
	}
	if err != nil {
		return model.ChatUser{}, err
	}
	return u, nil
}

// MemoryDirectory is an in-process Directory for tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]model.ChatUser
}

func NewMemoryDirectory(users ...model.ChatUser) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]model.ChatUser)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put registers or updates a known user.
func (d *MemoryDirectory) Put(u model.ChatUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (model.ChatUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return model.ChatUser{}, ErrUnknownUser
	}
	return u, nil
}
