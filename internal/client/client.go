package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/events"
	"github.com/baalimago/nexusrelay/internal/reconnect"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
)

var (
	// ErrNotConnected is returned by sends while the client isn't Connected
	ErrNotConnected = errors.New("not connected")
	// ErrSuperseded is returned by a connect attempt which was overtaken by a
	// Disconnect before completing
	ErrSuperseded = errors.New("connect attempt superseded")
)

const (
	// CloseNormal is reported when the caller disconnects
	CloseNormal = 1000
	// CloseAbnormal is reported when the transport is lost
	CloseAbnormal = 1006
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is an inspectable snapshot of the client
type Status struct {
	State                State
	ClientID             string
	ReconnectAttempts    int
	MaxReconnectAttempts int
}

// Client owns one outbound persistent session. It reconnects on involuntary
// disconnects according to its reconnect.Policy and turns inbound frames
// into events on its dispatcher.
type Client struct {
	url         string
	dialer      wsconn.Dialer
	sched       reconnect.Scheduler
	dispatcher  *events.Dispatcher
	statusTable *status.Table
	statusName  string
	dialTimeout time.Duration

	mu       sync.Mutex
	state    State
	policy   reconnect.Policy
	conn     wsconn.Conn
	clientID string
	// gen is bumped on every connect attempt and every Disconnect, anything
	// completing with an older gen is discarded
	gen   uint64
	timer reconnect.Timer
}

type Option func(*Client)

func WithDialer(d wsconn.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func WithScheduler(s reconnect.Scheduler) Option {
	return func(c *Client) {
		c.sched = s
	}
}

func WithPolicy(p reconnect.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

func WithDispatcher(d *events.Dispatcher) Option {
	return func(c *Client) {
		c.dispatcher = d
	}
}

// WithStatusTable records connection state of the client under name
func WithStatusTable(t *status.Table, name string) Option {
	return func(c *Client) {
		c.statusTable = t
		c.statusName = name
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialer:      wsconn.WebsocketDialer{},
		sched:       reconnect.WallClock(),
		policy:      reconnect.DefaultPolicy(),
		statusName:  status.RelaySession,
		dialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = events.NewDispatcher()
	}
	return c
}

func (c *Client) Subscribe(name events.Name, h events.Handler) (events.Subscription, error) {
	return c.dispatcher.Subscribe(name, h)
}

func (c *Client) Unsubscribe(name events.Name, sub events.Subscription) bool {
	return c.dispatcher.Unsubscribe(name, sub)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:                c.state,
		ClientID:             c.clientID,
		ReconnectAttempts:    c.policy.Attempt,
		MaxReconnectAttempts: c.policy.MaxAttempts,
	}
}

// Connect opens the session. It's a no-op unless the client is Disconnected.
// A failing attempt is reported both as an error and as a disconnect event,
// and schedules a retry if the policy allows it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		ancli.Noticef("client already %v to: '%v'", c.State(), c.url)
		return nil
	}
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.mu.Unlock()
	return c.dial(ctx, gen)
}

// Disconnect closes the session and suppresses any pending reconnection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.gen++
	c.stopTimerLocked()
	conn := c.conn
	active := c.state != Disconnected
	c.conn = nil
	c.state = Disconnected
	c.statusTable.Set(c.statusName, false)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if active {
		c.dispatcher.Publish(events.Disconnect, events.DisconnectInfo{
			Code:      CloseNormal,
			Reason:    "client disconnect",
			Voluntary: true,
			Final:     true,
		})
	}
	return err
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		if c.handleLoss(gen, err) {
			return fmt.Errorf("client connect: %w", err)
		}
		return ErrSuperseded
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		ancli.Noticef("discarding superseded connection to: '%v'", c.url)
		return ErrSuperseded
	}
	c.conn = conn
	c.state = Connected
	c.policy.Reset()
	c.statusTable.Set(c.statusName, true)
	c.mu.Unlock()

	ancli.Okf("connected to: '%v'", c.url)
	c.dispatcher.Publish(events.Connect, events.ConnectInfo{URL: c.url})
	go c.readLoop(conn, gen)
	return nil
}

// handleLoss moves to Disconnected after an involuntary loss and schedules
// a retry. Returns false if gen was already superseded, and nothing was done.
func (c *Client) handleLoss(gen uint64, cause error) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.statusTable.Set(c.statusName, false)
	delay, retry := c.policy.Next()
	attempt, maxAttempts := c.policy.Attempt, c.policy.MaxAttempts
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	reason := "connection closed"
	if cause != nil && !wsconn.IsClosure(cause) {
		reason = cause.Error()
	}
	ancli.Warnf("session to '%v' lost: %v", c.url, reason)
	c.dispatcher.Publish(events.Disconnect, events.DisconnectInfo{
		Code:   CloseAbnormal,
		Reason: reason,
		Final:  !retry,
	})
	if !retry {
		ancli.Errf("reached max reconnect attempts (%v), giving up on: '%v'", maxAttempts, c.url)
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Connect or Disconnect may have been called by some subscriber
	if gen != c.gen || c.state != Disconnected {
		return true
	}
	ancli.Noticef("reconnecting (%v/%v) in %v", attempt, maxAttempts, delay)
	c.timer = c.sched.AfterFunc(delay, func() {
		c.retry(gen)
	})
	return true
}

func (c *Client) retry(scheduledBy uint64) {
	c.mu.Lock()
	if scheduledBy != c.gen || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	// Failures are reported via handleLoss
	_ = c.dial(ctx, gen)
}

func (c *Client) readLoop(conn wsconn.Conn, gen uint64) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			c.handleLoss(gen, err)
			return
		}
		c.handleFrame(conn, gen, f.Data)
	}
}
