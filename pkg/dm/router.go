// Package dm routes direct messages point-to-point between two users'
// connections, independent of room membership.
package dm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/directory"
	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/snowflake"
)

var (
	// ErrEmptyMessage rejects messages that are blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrInvalidRecipient is returned when the target user id does not
	// resolve to a known user.
	ErrInvalidRecipient = errors.New("recipient unknown")

	// ErrStorageUnavailable is returned when the durable append fails.
	// Direct messages prefer consistency over availability: a message that
	// cannot be persisted is not counted as sent.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// EventStore is the durable-storage collaborator for direct messages.
type EventStore interface {
	AppendDM(ctx context.Context, d model.DirectMessage) error
}

// Router delivers direct messages to every connection of both parties.
// Offline recipients are not queued for; they catch up from persisted
// history on next connect.
type Router struct {
	reg   *registry.Registry
	dir   directory.Directory
	ids   *snowflake.Node
	store EventStore
	log   zerolog.Logger
}

func NewRouter(reg *registry.Registry, dir directory.Directory, ids *snowflake.Node, store EventStore, log zerolog.Logger) *Router {
	return &Router{reg: reg, dir: dir, ids: ids, store: store, log: log}
}

// Send validates, persists, and delivers one direct message. Delivery goes
// to every currently registered connection of both the sender and the
// recipient, so the sender's other tabs see their own outgoing message too.
func (r *Router) Send(ctx context.Context, sender model.ChatUser, toUserID, rawText string) (model.DirectMessage, error) {
	text, err := model.NormalizeText(rawText)
	if err != nil {
		return model.DirectMessage{}, ErrEmptyMessage
	}

	recipient, err := r.dir.Lookup(ctx, toUserID)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownUser) {
			return model.DirectMessage{}, ErrInvalidRecipient
		}
		return model.DirectMessage{}, fmt.Errorf("resolve recipient: %w", err)
	}

	msg := model.DirectMessage{
		ID:        r.ids.Generate(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Sender:    sender,
		Recipient: recipient,
	}

	// Persist before delivering; a failed append fails the send.
	if err := r.store.AppendDM(ctx, msg); err != nil {
		r.log.Error().Err(err).Str("from", sender.ID).Str("to", recipient.ID).Msg("dm persist failed")
		return model.DirectMessage{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.reg.Broadcast(registry.ForUsers(sender.ID, recipient.ID), frame.DM(msg))
	return msg, nil
}
