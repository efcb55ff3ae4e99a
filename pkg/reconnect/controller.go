// Package reconnect drives a client's automatic reconnection after
// transport loss: exponential backoff, resubscription on open, and
// unconditional teardown. It runs in clients, not the server, but is part of
// the realtime contract and is kept transport-agnostic so the backoff
// behavior can be tested without sockets or real timers.
package reconnect

import (
	"errors"
	"sync"
	"time"
)

// State of the controller's finite-state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	baseDelay  = 1000 * time.Millisecond
	maxDelay   = 10 * time.Second
	attemptCap = 6
)

// ErrStopped is returned from Start after Stop has been called.
var ErrStopped = errors.New("controller stopped")

// Delay returns the backoff delay before reconnect attempt n (1-based):
// min(1000ms * 2^(n-1), 10s). The input is capped at 6 so the delay
// plateaus instead of growing without bound.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > attemptCap {
		attempt = attemptCap
	}
	d := baseDelay << (attempt - 1)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Transport is one live duplex connection from the controller's point of
// view. ReadFrame blocks until a frame arrives or the transport fails.
type Transport interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer opens a new transport. Called once per attempt.
type Dialer func() (Transport, error)

// Scheduler abstracts timer scheduling so retries can be driven
// deterministically in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled retry.
type Timer interface {
	Stop() bool
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// RealScheduler returns a Scheduler backed by the time package.
func RealScheduler() Scheduler { return realScheduler{} }

// Controller owns exactly one logical subscription: at most one live
// transport attempt exists at a time, and a new connect attempt cancels any
// pending scheduled retry.
type Controller struct {
	dial    Dialer
	sched   Scheduler
	onFrame func([]byte)
	onState func(State)

	mu        sync.Mutex
	state     State
	attempt   int // capped input to Delay
	total     int // telemetry only, never capped
	pending   Timer
	transport Transport
	stopped   bool
}

// New creates a controller. onFrame receives every inbound frame; onState,
// if non-nil, observes state transitions (telemetry/UI).
func New(dial Dialer, sched Scheduler, onFrame func([]byte), onState func(State)) *Controller {
	if sched == nil {
		sched = RealScheduler()
	}
	return &Controller{dial: dial, sched: sched, onFrame: onFrame, onState: onState}
}

// Start begins connecting immediately. Calling Start on a controller that is
// already connecting, open, or backing off is a no-op: the controller never
// holds more than one live transport attempt. Returns ErrStopped if the
// controller has already been torn down.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.cancelPendingLocked()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.connect()
	return nil
}

// Stop tears the controller down: no future retries will fire and any open
// transport is closed. Unconditional, even with a retry in flight.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cancelPendingLocked()
	t := c.transport
	c.transport = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

// State returns the current FSM state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the total number of connect attempts made, uncapped.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Controller) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.total++
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	t, err := c.dial()
	if err != nil {
		c.scheduleRetry()
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.transport = t
	c.attempt = 0 // successful open resets the backoff
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.readLoop(t)
}

func (c *Controller) readLoop(t Transport) {
	for {
		data, err := t.ReadFrame()
		if err != nil {
			t.Close()
			c.mu.Lock()
			if c.transport == t {
				c.transport = nil
			}
			stopped := c.stopped
			c.mu.Unlock()
			if !stopped {
				// Unintentional close: schedule a reconnect.
				c.scheduleRetry()
			}
			return
		}
		if c.onFrame != nil {
			c.onFrame(data)
		}
	}
}

func (c *Controller) scheduleRetry() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.attempt < attemptCap {
		c.attempt++
	}
	d := Delay(c.attempt)
	c.setStateLocked(StateBackoff)
	c.cancelPendingLocked()
	c.pending = c.sched.AfterFunc(d, func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		c.connect()
	})
	c.mu.Unlock()
}
