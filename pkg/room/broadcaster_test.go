package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/snowflake"
	"github.com/inkwell-app/realtime/pkg/store"
)

// recorder collects frames delivered to one simulated connection, decoded
// back into their typed form.
type recorder struct {
	mu     sync.Mutex
	frames []frame.ServerFrame
}

func (r *recorder) Send(raw []byte) error {
	f, err := frame.ParseServer(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

// messageIDs returns the ids of received chat:message frames, in order.
func (r *recorder) messageIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, f := range r.frames {
		if m, ok := f.(frame.MessageFrame); ok {
			ids = append(ids, m.Message.ID)
		}
	}
	return ids
}

// lastOnline returns the most recent chat:online count, or -1.
func (r *recorder) lastOnline() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if o, ok := r.frames[i].(frame.OnlinePayload); ok {
			return o.OnlineCount
		}
	}
	return -1
}

func (r *recorder) welcome() (frame.WelcomePayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if w, ok := f.(frame.WelcomePayload); ok {
			return w, true
		}
	}
	return frame.WelcomePayload{}, false
}

type fixture struct {
	reg    *registry.Registry
	b      *Broadcaster
	events *store.MemoryStore
	roster *MemoryRoster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ids, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		reg:    registry.New(zerolog.Nop(), nil),
		events: store.NewMemoryStore(),
		roster: NewMemoryRoster(),
	}
	f.b = NewBroadcaster(f.reg, ids, f.events, f.roster, zerolog.Nop())
	return f
}

func (f *fixture) join(t *testing.T, userID string) (*recorder, *registry.Handle) {
	t.Helper()
	rec := &recorder{}
	h, err := f.reg.Admit(rec, model.ChatUser{ID: userID, Name: userID}, Public)
	if err != nil {
		t.Fatal(err)
	}
	f.b.OnJoin(context.Background(), h)
	return rec, h
}

func TestPostMessageRejectsWhitespace(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.join(t, "alice")
	before := len(rec.messageIDs())

	_, err := f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice"}, "  ")
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if got := len(rec.messageIDs()); got != before {
		t.Errorf("whitespace post produced %d broadcast(s)", got-before)
	}
	if got := len(f.events.Messages()); got != 0 {
		t.Errorf("whitespace post persisted %d message(s)", got)
	}
}

func TestPostMessageTruncation(t *testing.T) {
	f := newFixture(t)
	f.join(t, "alice")

	long := strings.Repeat("x", 600)
	msg, err := f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice"}, long)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Text) != model.MaxTextChars {
		t.Errorf("len = %d, want %d", len(msg.Text), model.MaxTextChars)
	}

	short, err := f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice"}, "0123456789")
	if err != nil {
		t.Fatal(err)
	}
	if short.Text != "0123456789" {
		t.Errorf("short text = %q, want unchanged", short.Text)
	}

	stored := f.events.Messages()
	if len(stored) != 2 || len(stored[0].Text) != model.MaxTextChars {
		t.Errorf("stored texts not truncated consistently with broadcast")
	}
}

func TestPostMessageDeliveredOncePerConnection(t *testing.T) {
	f := newFixture(t)
	recA, _ := f.join(t, "alice")
	recB, _ := f.join(t, "bob")
	recC, _ := f.join(t, "carol")

	msg, err := f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice", Name: "alice"}, "hi all")
	if err != nil {
		t.Fatal(err)
	}

	for name, rec := range map[string]*recorder{"alice": recA, "bob": recB, "carol": recC} {
		var n int
		for _, id := range rec.messageIDs() {
			if id == msg.ID {
				n++
			}
		}
		if n != 1 {
			t.Errorf("%s observed the message %d times, want exactly once", name, n)
		}
	}
}

func TestOnlineCountIsDistinctUsers(t *testing.T) {
	f := newFixture(t)
	// alice opens three tabs, bob one: count is 2, not 4.
	f.join(t, "alice")
	f.join(t, "alice")
	rec, _ := f.join(t, "alice")
	f.join(t, "bob")

	if got := f.b.OnlineCount(); got != 2 {
		t.Errorf("OnlineCount() = %d, want 2", got)
	}
	if got := rec.lastOnline(); got != 2 {
		t.Errorf("broadcast online count = %d, want 2", got)
	}
}

func TestWelcomeSequence(t *testing.T) {
	f := newFixture(t)
	f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice", Name: "alice"}, "first")
	f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice", Name: "alice"}, "second")

	rec, _ := f.join(t, "bob")

	w, ok := rec.welcome()
	if !ok {
		t.Fatal("no welcome frame")
	}
	if w.User.ID != "bob" || w.OnlineCount != 1 {
		t.Errorf("welcome = %+v, want bob with online count 1", w)
	}

	// History arrives newest-last.
	ids := rec.messageIDs()
	if len(ids) != 2 {
		t.Fatalf("history frames = %d, want 2", len(ids))
	}
	if ids[0] >= ids[1] {
		t.Errorf("history order = %v, want oldest first", ids)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	f := newFixture(t)
	user := model.ChatUser{ID: "alice", Name: "alice"}
	for i := 0; i < HistoryLimit+10; i++ {
		if _, err := f.b.PostMessage(context.Background(), user, "m"); err != nil {
			t.Fatal(err)
		}
	}

	hist := f.b.History()
	if len(hist) != HistoryLimit {
		t.Fatalf("history len = %d, want %d", len(hist), HistoryLimit)
	}
	// Oldest entries evicted: remaining ids are in increasing order and the
	// newest stored id is the latest posted.
	stored := f.events.Messages()
	if hist[len(hist)-1].ID != stored[len(stored)-1].ID {
		t.Error("history tail is not the most recent message")
	}
}

func TestPostMessageSurvivesStoreFailure(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.join(t, "alice")
	f.events.Fail(true)

	// Live delivery prefers availability: a store outage must not block the
	// room broadcast.
	msg, err := f.b.PostMessage(context.Background(), model.ChatUser{ID: "alice"}, "hello")
	if err != nil {
		t.Fatalf("PostMessage() error: %v", err)
	}
	found := false
	for _, id := range rec.messageIDs() {
		if id == msg.ID {
			found = true
		}
	}
	if !found {
		t.Error("message not broadcast during store outage")
	}
}

func TestLeaveUpdatesRosterOnLastConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, h1 := f.join(t, "alice")
	_, h2 := f.join(t, "alice")

	f.reg.Remove(h1)
	f.b.OnLeave(ctx, h1)
	if n, _ := f.roster.Count(ctx); n != 1 {
		t.Fatalf("roster count = %d after closing one of two tabs, want 1", n)
	}

	f.reg.Remove(h2)
	f.b.OnLeave(ctx, h2)
	if n, _ := f.roster.Count(ctx); n != 0 {
		t.Errorf("roster count = %d after last tab closed, want 0", n)
	}
}
