package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/auth"
	"github.com/inkwell-app/realtime/pkg/db"
	"github.com/inkwell-app/realtime/pkg/directory"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/room"
)

type historyResponse struct {
	OnlineCount int64               `json:"online_count"`
	Messages    []model.ChatMessage `json:"messages"`
}

type dmHistoryResponse struct {
	With     model.ChatUser        `json:"with"`
	Messages []model.DirectMessage `json:"messages"`
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= room.HistoryLimit {
			return n
		}
	}
	return def
}

// HistoryHandler returns the last N public-room messages, chronological
// order, plus the current online count from the roster the gateway
// maintains.
func HistoryHandler(session *db.Session, roster room.Roster, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := limitParam(r, defaultLimit)

		iter := session.Query(
			`SELECT id, user_id, user_name, user_guest, text, created_at FROM messages WHERE room_id = ? LIMIT ?`,
			room.Public, limit,
		).WithContext(r.Context()).Iter()

		var messages []model.ChatMessage
		var m model.ChatMessage
		for iter.Scan(&m.ID, &m.User.ID, &m.User.Name, &m.User.Guest, &m.Text, &m.CreatedAt) {
			messages = append(messages, m)
			m = model.ChatMessage{}
		}
		if err := iter.Close(); err != nil {
			log.Error().Err(err).Msg("history query failed")
			http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
			return
		}

		// Rows come newest-first from the clustering order; clients want
		// newest-last.
		reverseMessages(messages)

		count, err := roster.Count(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("online count unavailable")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(historyResponse{OnlineCount: count, Messages: messages})
	}
}

func reverseMessages(msgs []model.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// DMHistoryHandler returns the last N direct messages between the caller
// and a counterpart, with the counterpart's resolved identity.
func DMHistoryHandler(session *db.Session, dir directory.Directory, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		withID := r.URL.Query().Get("with")
		if withID == "" {
			http.Error(w, "with is required", http.StatusBadRequest)
			return
		}

		counterpart, err := dir.Lookup(r.Context(), withID)
		if err != nil {
			if errors.Is(err, directory.ErrUnknownUser) {
				http.Error(w, "Unknown user", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("user_id", withID).Msg("counterpart lookup failed")
			http.Error(w, "Failed to resolve user", http.StatusInternalServerError)
			return
		}

		self := claims.User()
		byID := map[string]model.ChatUser{self.ID: self, counterpart.ID: counterpart}

		limit := limitParam(r, defaultLimit)
		iter := session.Query(
			`SELECT id, sender_id, recipient_id, text, created_at FROM dm_messages WHERE conversation_id = ? LIMIT ?`,
			model.ConversationID(self.ID, counterpart.ID), limit,
		).WithContext(r.Context()).Iter()

		var messages []model.DirectMessage
		var id int64
		var senderID, recipientID, text string
		var createdAt time.Time
		for iter.Scan(&id, &senderID, &recipientID, &text, &createdAt) {
			messages = append(messages, model.DirectMessage{
				ID:        id,
				Text:      text,
				CreatedAt: createdAt,
				Sender:    byID[senderID],
				Recipient: byID[recipientID],
			})
		}
		if err := iter.Close(); err != nil {
			log.Error().Err(err).Msg("dm history query failed")
			http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
			return
		}

		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dmHistoryResponse{With: counterpart, Messages: messages})
	}
}
