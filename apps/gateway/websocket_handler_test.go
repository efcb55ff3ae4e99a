package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/inkwell-app/realtime/pkg/frame"
	"github.com/inkwell-app/realtime/pkg/model"
	"github.com/inkwell-app/realtime/pkg/registry"
	"github.com/inkwell-app/realtime/pkg/room"
	"github.com/inkwell-app/realtime/pkg/snowflake"
)

func TestSendAfterDisconnectDoesNotPanic(t *testing.T) {
	reg := registry.New(zerolog.Nop(), nil)
	c := &Client{send: make(chan []byte, sendBuffer)}
	h, err := reg.Admit(c, model.ChatUser{ID: "alice", Name: "alice"}, room.Public)
	if err != nil {
		t.Fatal(err)
	}
	c.handle = h

	// The disconnect steps that can interleave with a welcome replay on
	// another goroutine.
	reg.Remove(h)
	c.closeSend()

	// Must be a no-op, never a panic on the closed queue.
	reg.Send(h, frame.Online(1))

	if err := c.Send(frame.Online(1)); !errors.Is(err, errConnClosed) {
		t.Fatalf("Send after close = %v, want errConnClosed", err)
	}
}

func TestDisconnectDuringJoinReplay(t *testing.T) {
	reg := registry.New(zerolog.Nop(), nil)
	ids, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	b := room.NewBroadcaster(reg, ids, nil, nil, zerolog.Nop())

	poster := model.ChatUser{ID: "bob", Name: "bob"}
	for i := 0; i < room.HistoryLimit; i++ {
		if _, err := b.PostMessage(context.Background(), poster, "m"); err != nil {
			t.Fatal(err)
		}
	}

	c := &Client{send: make(chan []byte, 8)}
	h, err := reg.Admit(c, model.ChatUser{ID: "alice", Name: "alice"}, room.Public)
	if err != nil {
		t.Fatal(err)
	}
	c.handle = h

	// Close the connection while the join sequence is replaying history to
	// it; every remaining send must fail cleanly.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Remove(h)
		c.closeSend()
	}()
	b.OnJoin(context.Background(), h)
	wg.Wait()

	if reg.Contains(h) {
		t.Error("handle still registered after disconnect")
	}
}
