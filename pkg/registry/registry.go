// Package registry owns the set of live realtime connections. It knows
// nothing about presence or chat semantics, only connection bookkeeping, so
// the layers above it can be tested without a real transport.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/model"
)

// ErrDuplicateConnection is returned when the same transport is admitted
// twice. Defensive; a correctly behaving caller never triggers it.
var ErrDuplicateConnection = errors.New("connection already admitted")

// Sender is the transport-facing side of a connection. Send must not block
// on network I/O; implementations enqueue and report overflow as an error.
type Sender interface {
	Send(frame []byte) error
}

// Handle is one admitted connection. Immutable after Admit.
type Handle struct {
	ID        string
	User      model.ChatUser
	Room      string
	CreatedAt time.Time

	sender Sender
}

// Sender returns the transport side of the handle, letting eviction
// callbacks reach the owning connection object.
func (h *Handle) Sender() Sender { return h.sender }

// Predicate selects handles for Broadcast and CountDistinctUsers.
type Predicate func(*Handle) bool

// All matches every registered connection.
func All(*Handle) bool { return true }

// InRoom matches connections subscribed to the given room.
func InRoom(room string) Predicate {
	return func(h *Handle) bool { return h.Room == room }
}

// ForUser matches every connection of one user.
func ForUser(userID string) Predicate {
	return func(h *Handle) bool { return h.User.ID == userID }
}

// ForUsers matches every connection of any of the given users.
func ForUsers(userIDs ...string) Predicate {
	set := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return func(h *Handle) bool {
		_, ok := set[h.User.ID]
		return ok
	}
}

// Registry is the mutable membership map. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handles  map[string]*Handle            // handle id -> handle
	byUser   map[string]map[string]*Handle // user id -> handle id -> handle
	bySender map[Sender]*Handle

	log     zerolog.Logger
	onEvict func(*Handle)
}

// New creates an empty registry. onEvict is invoked (outside the registry
// lock) for each connection whose send failed during a broadcast, after the
// connection has been removed; it may be nil.
func New(log zerolog.Logger, onEvict func(*Handle)) *Registry {
	return &Registry{
		handles:  make(map[string]*Handle),
		byUser:   make(map[string]map[string]*Handle),
		bySender: make(map[Sender]*Handle),
		log:      log,
		onEvict:  onEvict,
	}
}

// Admit registers a connection and assigns it a process-unique id.
func (r *Registry) Admit(sender Sender, user model.ChatUser, room string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySender[sender]; ok {
		return nil, ErrDuplicateConnection
	}

	h := &Handle{
		ID:        uuid.New().String(),
		User:      user,
		Room:      room,
		CreatedAt: time.Now(),
		sender:    sender,
	}
	r.handles[h.ID] = h
	if r.byUser[user.ID] == nil {
		r.byUser[user.ID] = make(map[string]*Handle)
	}
	r.byUser[user.ID][h.ID] = h
	r.bySender[sender] = h
	return h, nil
}

// Remove unregisters a connection. Idempotent; removing an already-removed
// handle is a no-op.
func (r *Registry) Remove(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(h)
}

func (r *Registry) removeLocked(h *Handle) {
	if _, ok := r.handles[h.ID]; !ok {
		return
	}
	delete(r.handles, h.ID)
	delete(r.bySender, h.sender)
	if conns, ok := r.byUser[h.User.ID]; ok {
		delete(conns, h.ID)
		if len(conns) == 0 {
			delete(r.byUser, h.User.ID)
		}
	}
}

// Contains reports whether the handle is still registered. Handlers that
// resume after an external call use this to re-validate assumptions.
func (r *Registry) Contains(h *Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[h.ID]
	return ok
}

// ConnectionsFor returns all live connections for one user.
func (r *Registry) ConnectionsFor(userID string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]*Handle, 0, len(conns))
	for _, h := range conns {
		out = append(out, h)
	}
	return out
}

// Send delivers one frame to a single handle, with the same failure
// isolation as Broadcast. A handle that was removed concurrently, for
// example by its own disconnect teardown, is skipped.
func (r *Registry) Send(h *Handle, frameData []byte) {
	r.mu.RLock()
	_, registered := r.handles[h.ID]
	r.mu.RUnlock()
	if !registered {
		return
	}
	if err := h.sender.Send(frameData); err != nil {
		r.log.Warn().Err(err).Str("connection_id", h.ID).Str("user_id", h.User.ID).
			Msg("send failed, evicting connection")
		r.Remove(h)
		if r.onEvict != nil {
			r.onEvict(h)
		}
	}
}

// Broadcast delivers a serialized frame to every connection matching the
// predicate. A failure on one connection never aborts delivery to others:
// the failing connection is logged, removed, and reported through onEvict.
func (r *Registry) Broadcast(pred Predicate, frameData []byte) {
	r.mu.RLock()
	var failed []*Handle
	for _, h := range r.handles {
		if !pred(h) {
			continue
		}
		if err := h.sender.Send(frameData); err != nil {
			r.log.Warn().Err(err).Str("connection_id", h.ID).Str("user_id", h.User.ID).
				Msg("broadcast send failed, evicting connection")
			failed = append(failed, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range failed {
		r.Remove(h)
		if r.onEvict != nil {
			r.onEvict(h)
		}
	}
}

// CountDistinctUsers counts user ids with at least one matching connection.
// Multiple tabs for one user contribute once.
func (r *Registry) CountDistinctUsers(pred Predicate) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, h := range r.handles {
		if pred(h) {
			seen[h.User.ID] = struct{}{}
		}
	}
	return len(seen)
}

// Len returns the raw connection count. Diagnostic only.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
