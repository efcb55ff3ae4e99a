// Package room implements the single shared public chat room: bounded
// message history, online counter, and fan-out of accepted messages.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/snowflake"
)

// Public is the room id every chat connection subscribes to.
const Public = "public"

// HistoryLimit bounds the in-memory buffer independent of total ever-sent
// messages; the oldest entry is evicted beyond it.
const HistoryLimit = 240

// ErrEmptyMessage rejects posts that are blank after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// EventStore is the durable-storage collaborator. Appends from the room are
// best-effort: live delivery proceeds even when the store is down.
type EventStore interface {
	AppendMessage(ctx context.Context, m model.ChatMessage) error
}

// Broadcaster owns the public room.
type Broadcaster struct {
	reg    *registry.Registry
	ids    *snowflake.Node
	store  EventStore
	roster Roster
	log    zerolog.Logger

	mu      sync.Mutex
	history []model.ChatMessage
}

// NewBroadcaster creates the room. store and roster may be nil.
func NewBroadcaster(reg *registry.Registry, ids *snowflake.Node, store EventStore, roster Roster, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, ids: ids, store: store, roster: roster, log: log}
}

// OnlineCount is the number of distinct user ids with at least one room
// connection; multiple tabs for one user count once.
func (b *Broadcaster) OnlineCount() int {
	return b.reg.CountDistinctUsers(registry.InRoom(Public))
}

// OnJoin runs the connection-time sequence for a newly admitted room member:
// welcome frame with the caller's resolved identity, recent history
// newest-last, then an online-count rebroadcast to the whole room.
func (b *Broadcaster) OnJoin(ctx context.Context, h *registry.Handle) {
	if b.roster != nil {
		if err := b.roster.Add(ctx, h.User.ID); err != nil {
			b.log.Warn().Err(err).Str("user_id", h.User.ID).Msg("roster add failed")
		}
	}

	b.reg.Send(h, frame.Welcome(b.OnlineCount(), h.User))
	for _, m := range b.History() {
		b.reg.Send(h, frame.Message(m))
	}
	b.broadcastOnline()
}

// OnLeave runs after a room connection has been removed from the registry.
// The roster entry is dropped only when it was the user's last room
// connection, keeping the persisted set aligned with the distinct count.
func (b *Broadcaster) OnLeave(ctx context.Context, h *registry.Handle) {
	if b.roster != nil && !b.userStillInRoom(h.User.ID) {
		if err := b.roster.Remove(ctx, h.User.ID); err != nil {
			b.log.Warn().Err(err).Str("user_id", h.User.ID).Msg("roster remove failed")
		}
	}
	b.broadcastOnline()
}

func (b *Broadcaster) userStillInRoom(userID string) bool {
	for _, c := range b.reg.ConnectionsFor(userID) {
		if c.Room == Public {
			return true
		}
	}
	return false
}

func (b *Broadcaster) broadcastOnline() {
	b.reg.Broadcast(registry.InRoom(Public), frame.Online(b.OnlineCount()))
}

// PostMessage accepts one inbound public post: trims, validates, truncates,
// stamps, stores, appends to the bounded buffer, and fans out to every room
// member in acceptance order.
func (b *Broadcaster) PostMessage(ctx context.Context, user model.ChatUser, rawText string) (model.ChatMessage, error) {
	text, err := model.NormalizeText(rawText)
	if err != nil {
		return model.ChatMessage{}, ErrEmptyMessage
	}

	msg := model.ChatMessage{
		ID:        b.ids.Generate(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
		User:      user,
	}

	// History append and fan-out happen under one lock so all members see
	// the room's messages in a single global acceptance order.
	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > HistoryLimit {
		b.history = b.history[len(b.history)-HistoryLimit:]
	}
	b.reg.Broadcast(registry.InRoom(Public), frame.Message(msg))
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.AppendMessage(ctx, msg); err != nil {
			b.log.Error().Err(err).Int64("message_id", msg.ID).Msg("message persist failed")
		}
	}

	return msg, nil
}

// History returns a copy of the buffered messages, oldest first.
func (b *Broadcaster) History() []model.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.ChatMessage, len(b.history))
	copy(out, b.history)
	return out
}
