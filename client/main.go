package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/reconnect"
)

type loginResponse struct {
	Token string         `json:"token"`
	User  model.ChatUser `json:"user"`
}

func login(apiAddr, userID, name string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"id": userID, "name": name})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return lr.Token, nil
}

// session is the client-side view of the realtime connection: the live
// transport, id-based dedup (the server is at-least-once), and the
// per-counterpart conversation read-model reduced over received DMs.
type session struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	self          model.ChatUser
	seen          map[int64]struct{}
	conversations map[string]model.DirectMessage // counterpart id -> last message
}

func newSession() *session {
	return &session{
		seen:          make(map[int64]struct{}),
		conversations: make(map[string]model.DirectMessage),
	}
}

// markSeen reports whether the message id was already delivered on this
// view. Tolerates re-sends after a reconnect race.
func (s *session) markSeen(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[id]; dup {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *session) setConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

func (s *session) write(frameData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, frameData)
}

func (s *session) handleFrame(raw []byte) {
	f, err := frame.ParseServer(raw)
	if err != nil {
		fmt.Printf("! undecodable frame: %v\n", err)
		return
	}

	switch v := f.(type) {
	case frame.WelcomePayload:
		s.mu.Lock()
		s.self = v.User
		s.mu.Unlock()
		fmt.Printf("* connected as %s (%d online)\n", v.User.Name, v.OnlineCount)
	case frame.OnlinePayload:
		fmt.Printf("* %d online\n", v.OnlineCount)
	case frame.MessageFrame:
		if !s.markSeen(v.Message.ID) {
			return
		}
		fmt.Printf("[%s] %s: %s\n", v.Message.CreatedAt.Local().Format("15:04"), v.Message.User.Name, v.Message.Text)
	case frame.DMFrame:
		if !s.markSeen(v.DM.ID) {
			return
		}
		s.mu.Lock()
		counterpart := v.DM.Sender
		if counterpart.ID == s.self.ID {
			counterpart = v.DM.Recipient
		}
		s.conversations[counterpart.ID] = v.DM
		s.mu.Unlock()
		fmt.Printf("[dm] %s -> %s: %s\n", v.DM.Sender.Name, v.DM.Recipient.Name, v.DM.Text)
	case frame.ErrorPayload:
		fmt.Printf("! %s\n", v.Message)
	}
}

func main() {
	gatewayAddr := flag.String("gateway", "localhost:8080", "gateway address")
	apiAddr := flag.String("api", "http://localhost:8081", "api address")
	userID := flag.String("user", "", "user id (empty connects as guest)")
	name := flag.String("name", "", "display name")
	flag.Parse()

	query := url.Values{}
	if *userID != "" {
		displayName := *name
		if displayName == "" {
			displayName = *userID
		}
		token, err := login(*apiAddr, *userID, displayName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
		query.Set("token", token)
	} else if *name != "" {
		query.Set("name", *name)
	}

	wsURL := url.URL{Scheme: "ws", Host: *gatewayAddr, Path: "/ws", RawQuery: query.Encode()}

	sess := newSession()
	dial := func() (reconnect.Transport, error) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
		if err != nil {
			return nil, err
		}
		sess.setConn(conn)
		return wsTransport{conn: conn}, nil
	}

	ctrl := reconnect.New(dial, reconnect.RealScheduler(), sess.handleFrame, func(st reconnect.State) {
		if st == reconnect.StateBackoff {
			fmt.Println("* connection lost, retrying...")
		}
	})
	if err := ctrl.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer ctrl.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		ctrl.Stop()
		os.Exit(0)
	}()

	// stdin loop: "/dm <user_id> <text>" sends a direct message, anything
	// else posts to the public room.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var out []byte
		if rest, ok := strings.CutPrefix(line, "/dm "); ok {
			to, text, found := strings.Cut(rest, " ")
			if !found {
				fmt.Println("usage: /dm <user_id> <text>")
				continue
			}
			out = frame.EncodeClient(frame.PostDM{ToUserID: to, Text: text})
		} else {
			out = frame.EncodeClient(frame.PostMessage{Text: line})
		}

		if err := sess.write(out); err != nil {
			fmt.Printf("! send failed: %v\n", err)
		}
	}
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t wsTransport) Close() error {
	return t.conn.Close()
}
