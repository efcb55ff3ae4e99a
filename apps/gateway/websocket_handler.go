package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/inkwell-app/realtime/pkg/auth"
	"github.com/inkwell-app/realtime/pkg/dm"
	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/room"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Text is capped at 500 chars;
	// this bounds the envelope around it.
	maxFrameSize = 4096

	// Outbound queue per connection. Must absorb the welcome sequence
	// (welcome + full history buffer + online count) without overflowing.
	sendBuffer = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the platform fronts this with its own origin checks
	},
}

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

// Client pairs one websocket connection with its registry handle. A slow
// client overflows its own send buffer and is evicted; it never stalls
// delivery to others.
type Client struct {
	gw     *Gateway
	conn   *websocket.Conn
	send   chan []byte
	handle *registry.Handle

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Send enqueues one frame without blocking. Called from broadcast paths,
// which may race with this connection's own teardown.
func (c *Client) Send(frameData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- frameData:
		return nil
	default:
		return errSendBufferFull
	}
}

// closeSend marks the queue closed before closing it, so a send racing with
// teardown gets an error back instead of panicking on the closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	close(c.send)
}

// teardown runs the full disconnect sequence exactly once, whether the
// trigger was a read error, a send overflow, or shutdown.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.gw.reg.Remove(c.handle)
		c.gw.presence.OnDisconnect(c.handle.User.ID)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		c.gw.room.OnLeave(ctx, c.handle)

		c.closeSend()
		c.conn.Close()
		log.Info().Str("connection_id", c.handle.ID).Str("user_id", c.handle.User.ID).
			Msg("connection closed")
	})
}

// readPump parses inbound frames and routes them. Every error is caught
// here and converted to either a chat:error frame back to this client or a
// log entry; nothing propagates into shared state.
func (c *Client) readPump() {
	defer c.teardown()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.handle.ID).Msg("read error")
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	in, err := frame.ParseClient(raw)
	if err != nil {
		c.reply(frame.Error("malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch f := in.(type) {
	case frame.PostMessage:
		if _, err := c.gw.room.PostMessage(ctx, c.handle.User, f.Text); err != nil {
			c.reply(frame.Error(postErrorMessage(err)))
		}
	case frame.PostDM:
		if _, err := c.gw.dm.Send(ctx, c.handle.User, f.ToUserID, f.Text); err != nil {
			c.reply(frame.Error(dmErrorMessage(err)))
		}
	}
}

// reply sends an error frame to this connection only; validation failures
// are never broadcast.
func (c *Client) reply(frameData []byte) {
	if err := c.Send(frameData); err != nil {
		log.Warn().Str("connection_id", c.handle.ID).Msg("dropping error reply, buffer full")
	}
}

func postErrorMessage(err error) string {
	if errors.Is(err, room.ErrEmptyMessage) {
		return "message is empty"
	}
	return "message could not be sent"
}

func dmErrorMessage(err error) string {
	switch {
	case errors.Is(err, dm.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, dm.ErrInvalidRecipient):
		return "recipient not found"
	case errors.Is(err, dm.ErrStorageUnavailable):
		return "message could not be delivered, try again"
	default:
		return "message could not be sent"
	}
}

// writePump drains the send queue to the websocket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frameData, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message; clients parse each
			// message as a single JSON envelope.
			if err := c.conn.WriteMessage(websocket.TextMessage, frameData); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// resolveIdentity turns the connection-time credentials into a wire
// identity: the authenticated session when a valid token is present,
// otherwise a guest identity derived from the display-name hint.
func resolveIdentity(r *http.Request) model.ChatUser {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	if tokenString != "" {
		if claims, err := auth.ValidateToken(tokenString); err == nil {
			return claims.User()
		}
		log.Debug().Msg("invalid session token, falling back to guest identity")
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "guest"
	}
	return model.ChatUser{
		ID:    "guest-" + uuid.New().String()[:8],
		Name:  name,
		Guest: true,
	}
}

// serveWs admits one chat connection: resolve identity, register, mark
// online, start the pumps, then run the room join sequence.
func serveWs(gw *Gateway, w http.ResponseWriter, r *http.Request) {
	user := resolveIdentity(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{gw: gw, conn: conn, send: make(chan []byte, sendBuffer)}
	handle, err := gw.reg.Admit(client, user, room.Public)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("admit failed")
		conn.Close()
		return
	}
	client.handle = handle
	gw.presence.OnConnect(user.ID)
	log.Info().Str("connection_id", handle.ID).Str("user_id", user.ID).Bool("guest", user.Guest).
		Msg("connection admitted")

	go client.writePump()
	go client.readPump()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	gw.room.OnJoin(ctx, handle)
}
