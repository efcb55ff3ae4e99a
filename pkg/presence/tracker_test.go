package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/model"
)

// fakeClock drives grace timers deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	fn       func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due, unstopped timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

const grace = 10 * time.Second

func newTestTracker(t *testing.T) (*Tracker, *fakeClock, *Subscription) {
	t.Helper()
	clock := newFakeClock()
	tr := NewTracker(grace, clock, nil, zerolog.Nop())
	sub := tr.Subscribe()
	t.Cleanup(sub.Cancel)
	return tr, clock, sub
}

func drain(sub *Subscription) []model.PresenceStatus {
	var out []model.PresenceStatus
	for {
		select {
		case s := <-sub.C:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestOnlineTracksConnectionCount(t *testing.T) {
	tr, clock, _ := newTestTracker(t)

	// Three tabs for one user: online flips on the first connect and stays
	// set until the last disconnect's grace window expires.
	tr.OnConnect("alice")
	tr.OnConnect("alice")
	tr.OnConnect("alice")
	if !tr.StatusOf("alice").Online {
		t.Fatal("expected online after first connect")
	}

	tr.OnDisconnect("alice")
	tr.OnDisconnect("alice")
	clock.Advance(grace + time.Second)
	if !tr.StatusOf("alice").Online {
		t.Fatal("still one live connection, must stay online")
	}

	tr.OnDisconnect("alice")
	if !tr.StatusOf("alice").Online {
		t.Fatal("offline must not apply before the grace window")
	}
	clock.Advance(grace + time.Second)
	if tr.StatusOf("alice").Online {
		t.Fatal("expected offline after last disconnect and grace expiry")
	}
}

func TestGraceWindowAbsorbsReconnect(t *testing.T) {
	tr, clock, sub := newTestTracker(t)

	tr.OnConnect("alice")
	if events := drain(sub); len(events) != 1 || !events[0].Online {
		t.Fatalf("events = %+v, want one online event", events)
	}

	// Disconnect and reconnect inside the window: no offline event may be
	// observed at any point.
	tr.OnDisconnect("alice")
	clock.Advance(grace / 2)
	tr.OnConnect("alice")
	clock.Advance(2 * grace)

	if events := drain(sub); len(events) != 0 {
		t.Errorf("events = %+v, want none (reconnect within grace)", events)
	}
	if !tr.StatusOf("alice").Online {
		t.Error("expected online after reconnect")
	}
}

func TestReconnectThenDisconnectRestartsWindow(t *testing.T) {
	tr, clock, sub := newTestTracker(t)

	tr.OnConnect("alice")
	drain(sub)

	tr.OnDisconnect("alice")
	clock.Advance(grace / 2)
	tr.OnConnect("alice")
	tr.OnDisconnect("alice") // second drop restarts, not skips, the timer

	// The first window's deadline passes; the epoch guard must keep the
	// stale transition from firing.
	clock.Advance(grace / 2)
	if !tr.StatusOf("alice").Online {
		t.Fatal("stale grace timer applied offline transition")
	}
	if events := drain(sub); len(events) != 0 {
		t.Fatalf("events = %+v, want none yet", events)
	}

	clock.Advance(grace)
	if tr.StatusOf("alice").Online {
		t.Fatal("expected offline after restarted window expired")
	}
	events := drain(sub)
	if len(events) != 1 || events[0].Online {
		t.Fatalf("events = %+v, want one offline event", events)
	}
}

func TestOfflineStampsLastSeen(t *testing.T) {
	tr, clock, _ := newTestTracker(t)

	tr.OnConnect("alice")
	tr.OnDisconnect("alice")
	clock.Advance(grace)

	st := tr.StatusOf("alice")
	if st.Online {
		t.Fatal("expected offline")
	}
	if st.LastSeenAt == nil || !st.LastSeenAt.Equal(clock.Now()) {
		t.Errorf("LastSeenAt = %v, want expiry time %v", st.LastSeenAt, clock.Now())
	}
}

func TestStatusOfUnknownUser(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	st := tr.StatusOf("nobody")
	if st.Online || st.LastSeenAt != nil {
		t.Errorf("StatusOf(unknown) = %+v, want offline with nil last seen", st)
	}
}

func TestBulkStatusOfDedupsAndCaps(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	tr.OnConnect("alice")

	got := tr.BulkStatusOf([]string{"alice", "alice", "bob"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (duplicates collapsed)", len(got))
	}
	if !got[0].Online || got[1].Online {
		t.Errorf("statuses = %+v, want alice online, bob offline", got)
	}

	ids := make([]string, BulkLimit*2)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	if got := tr.BulkStatusOf(ids); len(got) != BulkLimit {
		t.Errorf("len = %d, want cap %d", len(got), BulkLimit)
	}
}

func TestPresenceEventsAreCausal(t *testing.T) {
	tr, clock, sub := newTestTracker(t)

	tr.OnConnect("alice")
	tr.OnDisconnect("alice")
	clock.Advance(grace)
	tr.OnConnect("alice")

	events := drain(sub)
	want := []bool{true, false, true}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, online := range want {
		if events[i].Online != online {
			t.Errorf("event %d online = %v, want %v", i, events[i].Online, online)
		}
	}
}

// blockingStore stalls every Save until released, simulating a slow or
// unreachable backend.
type blockingStore struct {
	release chan struct{}
	saved   chan model.PresenceStatus
}

func (s *blockingStore) Save(_ context.Context, st model.PresenceStatus) error {
	<-s.release
	s.saved <- st
	return nil
}

func (s *blockingStore) Load(_ context.Context, userID string) (model.PresenceStatus, error) {
	return model.PresenceStatus{UserID: userID}, nil
}

func (s *blockingStore) LoadMany(_ context.Context, userIDs []string) ([]model.PresenceStatus, error) {
	out := make([]model.PresenceStatus, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, model.PresenceStatus{UserID: id})
	}
	return out, nil
}

func TestPersistenceNeverBlocksEvents(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{}), saved: make(chan model.PresenceStatus, 4)}
	tr := NewTracker(grace, newFakeClock(), bs, zerolog.Nop())
	sub := tr.Subscribe()
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		tr.OnConnect("alice")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect blocked on a stalled store write")
	}

	if events := drain(sub); len(events) != 1 || !events[0].Online {
		t.Fatalf("events = %+v, want one online event despite stalled store", events)
	}

	// Once the store recovers, the queued record still lands.
	close(bs.release)
	select {
	case st := <-bs.saved:
		if st.UserID != "alice" || !st.Online {
			t.Errorf("persisted record = %+v, want alice online", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record never reached the store")
	}
}

func TestCanceledSubscriptionReceivesNothing(t *testing.T) {
	tr, _, sub := newTestTracker(t)
	sub.Cancel()
	tr.OnConnect("alice")
	if events := drain(sub); len(events) != 0 {
		t.Errorf("events = %+v, want none after cancel", events)
	}
}
