package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/auth"
	"github.com/inkwell-app/realtime/pkg/frame"
)

// servePresence is the presence notification stream: one `ready` frame with
// the caller's own status at subscribe time, then a `presence` frame on
// every subsequent change. Scoped to authenticated sessions.
func servePresence(gw *Gateway, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	claims, err := auth.ValidateToken(tokenString)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("presence upgrade failed")
		return
	}

	sub := gw.presence.Subscribe()
	defer sub.Cancel()
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame.Ready(gw.presence.StatusOf(claims.UserID))); err != nil {
		return
	}

	// Reader goroutine only detects peer close and keeps pong handling
	// alive; presence subscribers never send frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxFrameSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case status := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame.Presence(status)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
