// Package presence derives online/offline state from live connection counts
// and fans out presence-changed events to subscribed observers.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/model"
)

// DefaultGraceWindow is how long a user stays online after their last
// connection drops, absorbing the client's automatic reconnect.
const DefaultGraceWindow = 10 * time.Second

// BulkLimit caps how many user ids one bulk status read may resolve.
const BulkLimit = 80

const observerBuffer = 32

const persistBuffer = 64

// Subscription receives presence-changed events until Cancel is called.
// Events are dropped, never blocked on, when the receiver falls behind.
type Subscription struct {
	C chan model.PresenceStatus

	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

type userState struct {
	conns      int
	online     bool
	lastSeenAt *time.Time
	updatedAt  time.Time

	// epoch guards the grace timer: a scheduled offline transition carries
	// the epoch it was created under and applies only if still current.
	epoch uint64
	timer Timer
}

// Tracker maintains one presence state machine per user id.
type Tracker struct {
	// Methods are invoked from the gateway's connection handlers, which run
	// concurrently, so internal state is mutex-guarded even though each
	// transition itself is short and non-blocking.
	mu        sync.Mutex
	users     map[string]*userState
	observers map[*Subscription]struct{}

	grace time.Duration
	clock Clock
	store Store
	log   zerolog.Logger

	// persistCh feeds the single store-writer goroutine; nil when no store
	// is configured.
	persistCh chan model.PresenceStatus
}

// NewTracker creates a tracker. store may be nil (no persistence); grace <= 0
// falls back to DefaultGraceWindow.
func NewTracker(grace time.Duration, clock Clock, store Store, log zerolog.Logger) *Tracker {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	if clock == nil {
		clock = RealClock()
	}
	t := &Tracker{
		users:     make(map[string]*userState),
		observers: make(map[*Subscription]struct{}),
		grace:     grace,
		clock:     clock,
		store:     store,
		log:       log,
	}
	if store != nil {
		t.persistCh = make(chan model.PresenceStatus, persistBuffer)
		go t.persistLoop()
	}
	return t
}

// OnConnect records one new connection for the user. The first connection
// flips the user online immediately and cancels any pending offline timer.
func (t *Tracker) OnConnect(userID string) {
	t.mu.Lock()
	st := t.users[userID]
	if st == nil {
		st = &userState{}
		t.users[userID] = st
	}
	st.conns++
	st.epoch++ // invalidates any scheduled offline transition
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}

	var changed *model.PresenceStatus
	if !st.online {
		st.online = true
		st.updatedAt = t.clock.Now()
		s := t.statusLocked(userID, st)
		changed = &s
	}
	t.mu.Unlock()

	if changed != nil {
		t.publish(*changed)
	}
}

// OnDisconnect records one closed connection. When it was the user's last,
// the offline transition is scheduled after the grace window rather than
// applied immediately; a reconnect inside the window cancels it.
func (t *Tracker) OnDisconnect(userID string) {
	t.mu.Lock()
	st := t.users[userID]
	if st == nil || st.conns == 0 {
		t.mu.Unlock()
		return
	}
	st.conns--
	if st.conns > 0 {
		t.mu.Unlock()
		return
	}

	st.epoch++
	epoch := st.epoch
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = t.clock.AfterFunc(t.grace, func() {
		t.expire(userID, epoch)
	})
	t.mu.Unlock()
}

// expire applies a scheduled offline transition if it is still current.
func (t *Tracker) expire(userID string, epoch uint64) {
	t.mu.Lock()
	st := t.users[userID]
	if st == nil || st.epoch != epoch || st.conns > 0 || !st.online {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	st.online = false
	st.lastSeenAt = &now
	st.updatedAt = now
	st.timer = nil
	s := t.statusLocked(userID, st)
	t.mu.Unlock()

	t.publish(s)
}

// StatusOf returns the current presence record for a user. Unknown users
// read as offline with no last-seen timestamp.
func (t *Tracker) StatusOf(userID string) model.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.users[userID]
	if st == nil {
		return model.PresenceStatus{UserID: userID, UpdatedAt: t.clock.Now()}
	}
	return t.statusLocked(userID, st)
}

// BulkStatusOf resolves presence for a deduplicated id set, capped at
// BulkLimit to bound payload cost.
func (t *Tracker) BulkStatusOf(userIDs []string) []model.PresenceStatus {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]model.PresenceStatus, 0, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, t.StatusOf(id))
		if len(out) == BulkLimit {
			break
		}
	}
	return out
}

// Subscribe attaches an observer for presence-changed events.
func (t *Tracker) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan model.PresenceStatus, observerBuffer)}
	sub.cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.observers, sub)
	}
	t.mu.Lock()
	t.observers[sub] = struct{}{}
	t.mu.Unlock()
	return sub
}

func (t *Tracker) statusLocked(userID string, st *userState) model.PresenceStatus {
	return model.PresenceStatus{
		UserID:     userID,
		Online:     st.online,
		LastSeenAt: st.lastSeenAt,
		UpdatedAt:  st.updatedAt,
	}
}

// persistLoop is the single writer draining presence records to the store,
// keeping store concurrency bounded no matter how fast presence churns.
func (t *Tracker) persistLoop() {
	for s := range t.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := t.store.Save(ctx, s)
		cancel()
		if err != nil {
			t.log.Warn().Err(err).Str("user_id", s.UserID).Msg("presence persist failed")
		}
	}
}

// publish persists the record best-effort and fans it out to observers.
// Persistence never blocks or fails the broadcast.
func (t *Tracker) publish(s model.PresenceStatus) {
	if t.persistCh != nil {
		select {
		case t.persistCh <- s:
		default:
			t.log.Warn().Str("user_id", s.UserID).Msg("presence persist queue full, record dropped")
		}
	}

	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.observers))
	for sub := range t.observers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.C <- s:
		default:
			t.log.Warn().Str("user_id", s.UserID).Msg("presence observer lagging, event dropped")
		}
	}
}
