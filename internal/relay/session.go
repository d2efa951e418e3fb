package relay

import (
	"context"
	"sync"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/reconnect"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
	"github.com/eapache/queue"
)

type State int

const (
	// Opening while no upstream is attached, both before the first pairing
	// and while reconnecting
	Opening State = iota
	Paired
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Paired:
		return "paired"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	msgNotConnected = "not yet connected"
	msgBacklogFull  = "upstream reconnecting, backlog full"
	msgExhausted    = "upstream reconnect exhausted"
)

// Session is one downstream connection and the upstream connection made
// on its behalf. Every transition happens under mu, so steps affecting the
// same session never interleave.
type Session struct {
	ID    string
	relay *Relay
	down  wsconn.Conn
	// ctx is cancelled on close, aborting any dial in flight
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	up    wsconn.Conn
	// upGen identifies the current upstream, pumps of replaced upstreams
	// check it before acting
	upGen  uint64
	policy reconnect.Policy
	timer  reconnect.Timer
	// timerGen identifies the pending reconnect, a stale timer callback
	// does nothing
	timerGen uint64
	// backlog is non-nil while reconnecting upstream
	backlog     *queue.Queue
	backlogSize int

	done     chan struct{}
	doneOnce sync.Once
}

func newSession(id string, r *Relay, down wsconn.Conn) *Session {
	ctx, cancel := context.WithCancel(r.ctx)
	return &Session{
		ID:     id,
		relay:  r,
		down:   down,
		ctx:    ctx,
		cancel: cancel,
		state:  Opening,
		policy: r.Settings().Policy,
		done:   make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// pair dials upstream for the first time. A failure ends the session.
func (s *Session) pair() {
	up, err := s.relay.dialUpstream(s.ctx)
	s.mu.Lock()
	if s.state != Opening {
		s.mu.Unlock()
		if up != nil {
			up.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		ancli.Errf("session '%v' failed to pair with upstream: %v", s.ID, err)
		s.notifyDown(envelope.Error, envelope.Notice{
			Message: "failed to connect to upstream",
			Error:   err.Error(),
		})
		s.close("pairing failed")
		return
	}
	s.attachLocked(up, "paired with upstream")
	s.mu.Unlock()
	ancli.Okf("session '%v' paired with upstream", s.ID)
}

// attachLocked makes up the current upstream, tells downstream about it
// and starts pumping. The notice is written before the pump starts so it
// precedes any upstream frame.
func (s *Session) attachLocked(up wsconn.Conn, msg string) {
	s.up = up
	s.upGen++
	s.state = Paired
	s.backlog = nil
	s.policy.Reset()
	s.writeDownLocked(envelope.Connected, envelope.Notice{Message: msg})
	go s.pumpUpstream(up, s.upGen)
}

func (s *Session) pumpDownstream() {
	for {
		f, err := s.down.ReadFrame()
		if err != nil {
			if !wsconn.IsClosure(err) {
				ancli.Warnf("session '%v' downstream read: %v", s.ID, err)
			}
			s.close("downstream closed")
			return
		}
		s.fromDownstream(f)
	}
}

func (s *Session) fromDownstream(f wsconn.Frame) {
	s.mu.Lock()
	switch s.state {
	case Paired:
		err := s.up.WriteFrame(f)
		if err == nil {
			s.mu.Unlock()
			return
		}
		ancli.Warnf("session '%v' upstream write: %v", s.ID, err)
		if !s.upstreamLostLocked(err) {
			s.mu.Unlock()
			s.close("upstream closed")
			return
		}
		// Reconnecting now, the frame waits in the backlog
		s.enqueueLocked(f)
		s.mu.Unlock()
	case Opening:
		s.enqueueLocked(f)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
	}
}

// enqueueLocked holds f while reconnecting, before the first pairing
// frames are rejected
func (s *Session) enqueueLocked(f wsconn.Frame) {
	if s.backlog == nil {
		s.writeDownLocked(envelope.Error, envelope.Notice{Message: msgNotConnected})
		return
	}
	if s.backlog.Length() >= s.backlogSize {
		s.writeDownLocked(envelope.Error, envelope.Notice{Message: msgBacklogFull})
		return
	}
	s.backlog.Add(f)
}

func (s *Session) pumpUpstream(up wsconn.Conn, gen uint64) {
	for {
		f, err := up.ReadFrame()
		if err != nil {
			s.upstreamLost(gen, err)
			return
		}
		if err := s.down.WriteFrame(f); err != nil {
			s.close("downstream write failed")
			return
		}
	}
}

func (s *Session) upstreamLost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.upGen || s.state != Paired {
		s.mu.Unlock()
		return
	}
	if s.upstreamLostLocked(cause) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.close("upstream closed")
}

// upstreamLostLocked drops the current upstream and reports if a
// reconnection was scheduled
func (s *Session) upstreamLostLocked(cause error) bool {
	if wsconn.IsClosure(cause) {
		ancli.Noticef("session '%v' upstream closed", s.ID)
	} else {
		ancli.Warnf("session '%v' upstream lost: %v", s.ID, cause)
	}
	s.up.Close()
	s.up = nil
	s.upGen++
	s.state = Opening
	s.relay.statusTable.Set(status.UpstreamSession, false)
	s.writeDownLocked(envelope.Disconnected, envelope.Notice{Message: "upstream connection lost"})

	settings := s.relay.Settings()
	if !settings.Reconnect {
		return false
	}
	s.backlog = queue.New()
	s.backlogSize = settings.BacklogSize
	s.policy = s.policy.WithLimits(settings.Policy)
	return s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() bool {
	delay, ok := s.policy.Next()
	if !ok {
		s.writeDownLocked(envelope.Error, envelope.Notice{Message: msgExhausted})
		return false
	}
	s.timerGen++
	gen := s.timerGen
	ancli.Noticef("session '%v' reconnecting upstream in %v (attempt %v/%v)", s.ID, delay, s.policy.Attempt, s.policy.MaxAttempts)
	s.timer = s.relay.sched.AfterFunc(delay, func() { s.reconnect(gen) })
	return true
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.state != Opening || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	up, err := s.relay.dialUpstream(s.ctx)

	s.mu.Lock()
	if s.state != Opening || gen != s.timerGen {
		s.mu.Unlock()
		if up != nil {
			up.Close()
		}
		return
	}
	if err == nil {
		err = s.flushLocked(up)
		if err != nil {
			up.Close()
		}
	}
	if err != nil {
		ancli.Warnf("session '%v' upstream reconnect failed: %v", s.ID, err)
		if s.scheduleReconnectLocked() {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.close(msgExhausted)
		return
	}
	s.attachLocked(up, "reconnected to upstream")
	s.mu.Unlock()
	ancli.Okf("session '%v' reconnected to upstream", s.ID)
}

// flushLocked writes the backlog to up in arrival order. Frames stay queued
// until written, so a failed flush loses nothing.
func (s *Session) flushLocked(up wsconn.Conn) error {
	for s.backlog != nil && s.backlog.Length() > 0 {
		f := s.backlog.Peek().(wsconn.Frame)
		if err := up.WriteFrame(f); err != nil {
			return err
		}
		s.backlog.Remove()
	}
	return nil
}

// close both sides and cancel any pending reconnect. Safe to call more
// than once.
func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
	up := s.up
	s.up = nil
	s.upGen++
	s.backlog = nil
	s.mu.Unlock()

	s.cancel()
	ancli.Noticef("closing session '%v': %v", s.ID, reason)
	if up != nil {
		up.Close()
	}
	s.down.Close()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) notifyDown(t envelope.Type, n envelope.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDownLocked(t, n)
}

// writeDownLocked sends a relay notice, stamped with the session id
func (s *Session) writeDownLocked(t envelope.Type, n envelope.Notice) {
	b, err := envelope.Encode(t, s.ID, n)
	if err != nil {
		ancli.Errf("session '%v' encode %v notice: %v", s.ID, t, err)
		return
	}
	if err := s.down.WriteFrame(wsconn.Text(b)); err != nil && !wsconn.IsClosure(err) {
		ancli.Warnf("session '%v' downstream notice: %v", s.ID, err)
	}
}
