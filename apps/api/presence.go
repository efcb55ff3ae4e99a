package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/presence"
)

// BulkPresenceHandler resolves presence for a set of user ids, deduplicated
// and capped at presence.BulkLimit, for initial hydration of a client's
// visible peer set.
func BulkPresenceHandler(store presence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("ids")
		if raw == "" {
			http.Error(w, "ids is required", http.StatusBadRequest)
			return
		}

		seen := make(map[string]struct{})
		var ids []string
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			if len(ids) == presence.BulkLimit {
				break
			}
		}

		statuses, err := store.LoadMany(r.Context(), ids)
		if err != nil {
			log.Error().Err(err).Msg("bulk presence read failed")
			http.Error(w, "Failed to read presence", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	}
}
