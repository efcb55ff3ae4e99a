package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/model"
)

// recorder is a Sender that collects delivered frames; failing makes every
// send error, simulating a dead transport.
type recorder struct {
	mu      sync.Mutex
	frames  [][]byte
	failing bool
}

func (r *recorder) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("transport gone")
	}
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func user(id string) model.ChatUser {
	return model.ChatUser{ID: id, Name: id}
}

func TestAdmitAssignsUniqueIDs(t *testing.T) {
	reg := New(zerolog.Nop(), nil)

	h1, err := reg.Admit(&recorder{}, user("alice"), "public")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	h2, err := reg.Admit(&recorder{}, user("alice"), "public")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if h1.ID == h2.ID {
		t.Errorf("handles share id %q", h1.ID)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestAdmitRejectsDuplicateTransport(t *testing.T) {
	reg := New(zerolog.Nop(), nil)
	sender := &recorder{}

	if _, err := reg.Admit(sender, user("alice"), "public"); err != nil {
		t.Fatalf("first Admit() error: %v", err)
	}
	if _, err := reg.Admit(sender, user("alice"), "public"); !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("second Admit() error = %v, want ErrDuplicateConnection", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := New(zerolog.Nop(), nil)
	h, _ := reg.Admit(&recorder{}, user("alice"), "public")

	reg.Remove(h)
	reg.Remove(h) // second removal is a no-op
	reg.Remove(nil)

	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
	if reg.Contains(h) {
		t.Error("Contains() = true after removal")
	}
}

func TestConnectionsFor(t *testing.T) {
	reg := New(zerolog.Nop(), nil)
	reg.Admit(&recorder{}, user("alice"), "public")
	reg.Admit(&recorder{}, user("alice"), "public")
	reg.Admit(&recorder{}, user("bob"), "public")

	if got := len(reg.ConnectionsFor("alice")); got != 2 {
		t.Errorf("ConnectionsFor(alice) = %d handles, want 2", got)
	}
	if got := len(reg.ConnectionsFor("carol")); got != 0 {
		t.Errorf("ConnectionsFor(carol) = %d handles, want 0", got)
	}
}

func TestBroadcastPredicates(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		want map[string]int // sender label -> frames delivered
	}{
		{
			name: "all",
			pred: All,
			want: map[string]int{"alice-pub": 1, "bob-pub": 1, "carol-none": 1},
		},
		{
			name: "room only",
			pred: InRoom("public"),
			want: map[string]int{"alice-pub": 1, "bob-pub": 1, "carol-none": 0},
		},
		{
			name: "single user",
			pred: ForUser("alice"),
			want: map[string]int{"alice-pub": 1, "bob-pub": 0, "carol-none": 0},
		},
		{
			name: "user pair",
			pred: ForUsers("alice", "bob"),
			want: map[string]int{"alice-pub": 1, "bob-pub": 1, "carol-none": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(zerolog.Nop(), nil)
			senders := map[string]*recorder{
				"alice-pub":  {},
				"bob-pub":    {},
				"carol-none": {},
			}
			reg.Admit(senders["alice-pub"], user("alice"), "public")
			reg.Admit(senders["bob-pub"], user("bob"), "public")
			reg.Admit(senders["carol-none"], user("carol"), "")

			reg.Broadcast(tt.pred, []byte(`{}`))

			for label, want := range tt.want {
				if got := senders[label].count(); got != want {
					t.Errorf("%s received %d frames, want %d", label, got, want)
				}
			}
		})
	}
}

func TestSendSkipsRemovedHandle(t *testing.T) {
	var evicted int
	reg := New(zerolog.Nop(), func(*Handle) { evicted++ })
	rec := &recorder{}
	h, _ := reg.Admit(rec, user("alice"), "public")
	reg.Remove(h)

	reg.Send(h, []byte(`{}`))

	if rec.count() != 0 {
		t.Errorf("removed handle received %d frames, want 0", rec.count())
	}
	if evicted != 0 {
		t.Errorf("evicted %d handles, want 0", evicted)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	var evicted []*Handle
	reg := New(zerolog.Nop(), func(h *Handle) { evicted = append(evicted, h) })

	good1 := &recorder{}
	bad := &recorder{failing: true}
	good2 := &recorder{}
	reg.Admit(good1, user("alice"), "public")
	hBad, _ := reg.Admit(bad, user("bob"), "public")
	reg.Admit(good2, user("carol"), "public")

	reg.Broadcast(All, []byte(`{}`))

	// Delivery to healthy connections is unaffected by the failure.
	if good1.count() != 1 || good2.count() != 1 {
		t.Errorf("healthy connections received %d/%d frames, want 1/1", good1.count(), good2.count())
	}
	// The failing connection is removed and reported.
	if reg.Contains(hBad) {
		t.Error("failing connection still registered")
	}
	if len(evicted) != 1 || evicted[0].ID != hBad.ID {
		t.Errorf("evicted = %v, want exactly the failing handle", evicted)
	}
}

func TestCountDistinctUsers(t *testing.T) {
	reg := New(zerolog.Nop(), nil)
	// One user with three simultaneous connections contributes once.
	reg.Admit(&recorder{}, user("alice"), "public")
	reg.Admit(&recorder{}, user("alice"), "public")
	reg.Admit(&recorder{}, user("alice"), "public")
	reg.Admit(&recorder{}, user("bob"), "public")
	reg.Admit(&recorder{}, user("carol"), "")

	if got := reg.CountDistinctUsers(InRoom("public")); got != 2 {
		t.Errorf("CountDistinctUsers(public) = %d, want 2", got)
	}
	if got := reg.CountDistinctUsers(All); got != 3 {
		t.Errorf("CountDistinctUsers(all) = %d, want 3", got)
	}
}
