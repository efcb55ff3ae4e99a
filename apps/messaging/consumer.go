package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/inkwell-app/realtime/pkg/db"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/room"
)

// Consumer drains the realtime-events topic into ScyllaDB. Message ordering
// for one room partition is preserved because persistence here is
// sequential, never fanned out to parallel writers.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, db: session}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("read failed, retrying in 1s")
			time.Sleep(1 * time.Second)
			continue
		}

		var ev model.StoredEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("skipping undecodable event")
			continue
		}

		switch ev.Kind {
		case model.KindMessage:
			if ev.Message == nil {
				log.Warn().Msg("message event without payload")
				continue
			}
			c.persistMessage(ctx, *ev.Message)
		case model.KindDM:
			if ev.DM == nil {
				log.Warn().Msg("dm event without payload")
				continue
			}
			c.persistDM(ctx, *ev.DM)
		default:
			log.Warn().Str("kind", string(ev.Kind)).Msg("skipping unknown event kind")
		}
	}
}

func (c *Consumer) persistMessage(ctx context.Context, msg model.ChatMessage) {
	err := c.db.Query(
		`INSERT INTO messages (room_id, id, user_id, user_name, user_guest, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.Public, msg.ID, msg.User.ID, msg.User.Name, msg.User.Guest, msg.Text, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		log.Error().Err(err).Int64("message_id", msg.ID).Msg("message persist failed")
		return
	}
	log.Debug().Int64("message_id", msg.ID).Msg("message persisted")
}

func (c *Consumer) persistDM(ctx context.Context, d model.DirectMessage) {
	err := c.db.Query(
		`INSERT INTO dm_messages (conversation_id, id, sender_id, recipient_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		model.ConversationID(d.Sender.ID, d.Recipient.ID), d.ID, d.Sender.ID, d.Recipient.ID, d.Text, d.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		log.Error().Err(err).Int64("message_id", d.ID).Msg("dm persist failed")
		return
	}
	log.Debug().Int64("message_id", d.ID).Msg("dm persisted")
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
