package relay

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/nexusrelay/internal/envelope"
	"github.com/baalimago/nexusrelay/internal/ident"
	"github.com/baalimago/nexusrelay/internal/reconnect"
	"github.com/baalimago/nexusrelay/internal/status"
	"github.com/baalimago/nexusrelay/internal/wsconn"
	"golang.org/x/net/websocket"
)

// ErrShuttingDown is returned when a session arrives after Shutdown
var ErrShuttingDown = errors.New("relay shutting down")

// Settings which may change while the relay runs. Changes apply to
// reconnections started afterwards.
type Settings struct {
	// Reconnect upstream when it drops while the downstream is still open
	Reconnect bool
	// Policy limits for upstream reconnection, Attempt is ignored
	Policy reconnect.Policy
	// BacklogSize bounds how many downstream frames are held while
	// reconnecting upstream
	BacklogSize int
	DialTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Reconnect:   true,
		Policy:      reconnect.DefaultPolicy(),
		BacklogSize: 256,
		DialTimeout: 5 * time.Second,
	}
}

// Relay pairs every inbound session with a session of its own against one
// upstream, and pumps frames between the two until either side closes.
type Relay struct {
	upstreamURL  string
	dialer       wsconn.Dialer
	sched        reconnect.Scheduler
	statusTable  *status.Table
	writeTimeout time.Duration
	newID        func() string

	settingsMu sync.RWMutex
	settings   Settings

	// ctx parents every session, Shutdown cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

type Option func(*Relay)

func WithDialer(d wsconn.Dialer) Option {
	return func(r *Relay) {
		r.dialer = d
	}
}

func WithScheduler(s reconnect.Scheduler) Option {
	return func(r *Relay) {
		r.sched = s
	}
}

func WithStatusTable(t *status.Table) Option {
	return func(r *Relay) {
		r.statusTable = t
	}
}

func WithSettings(s Settings) Option {
	return func(r *Relay) {
		r.settings = s
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.writeTimeout = d
	}
}

func WithSessionIDs(f func() string) Option {
	return func(r *Relay) {
		r.newID = f
	}
}

func New(upstreamURL string, opts ...Option) *Relay {
	r := &Relay{
		upstreamURL:  upstreamURL,
		sched:        reconnect.WallClock(),
		settings:     DefaultSettings(),
		writeTimeout: 5 * time.Second,
		newID:        ident.SessionID,
		sessions:     make(map[string]*Session),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}
	if r.dialer == nil {
		r.dialer = wsconn.WebsocketDialer{WriteTimeout: r.writeTimeout}
	}
	return r
}

// Handler accepting downstream sessions
func (r *Relay) Handler() http.Handler {
	return websocket.Handler(r.serve)
}

func (r *Relay) Settings() Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

func (r *Relay) UpdateSettings(s Settings) {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()
	r.settings = s
}

// Sessions snapshot, sorted by id
func (r *Relay) Sessions() []status.SessionInfo {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	ret := make([]status.SessionInfo, 0, len(list))
	for _, s := range list {
		ret = append(ret, status.SessionInfo{ID: s.ID, State: s.State().String()})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (r *Relay) serve(ws *websocket.Conn) {
	down := wsconn.Wrap(ws, r.writeTimeout)
	defer down.Close()
	s, err := r.register(down)
	if err != nil {
		ancli.Warnf("refusing session from '%v': %v", down.RemoteAddr(), err)
		if b, encErr := envelope.Encode(envelope.Error, "", envelope.Notice{Message: err.Error()}); encErr == nil {
			down.WriteFrame(wsconn.Text(b))
		}
		return
	}
	defer r.release(s)
	ancli.Noticef("new session: '%v' from '%v'", s.ID, down.RemoteAddr())

	go s.pumpDownstream()
	s.pair()
	<-s.done
}

func (r *Relay) register(down wsconn.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, ErrShuttingDown
	}
	s := newSession(r.newID(), r, down)
	r.sessions[s.ID] = s
	r.wg.Add(1)
	return s, nil
}

func (r *Relay) release(s *Session) {
	s.close("released")
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	ancli.Noticef("session '%v' released", s.ID)
	r.wg.Done()
}

func (r *Relay) dialUpstream(ctx context.Context) (wsconn.Conn, error) {
	if d := r.Settings().DialTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	up, err := r.dialer.Dial(ctx, r.upstreamURL)
	// A dial aborted by close or shutdown says nothing about upstream
	if err == nil || ctx.Err() != context.Canceled {
		r.statusTable.Set(status.UpstreamSession, err == nil)
	}
	return up, err
}

// Shutdown refuses new sessions, closes every pair and cancels every pending
// reconnection, then waits for the sessions to be released or ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()
	r.cancel()

	ancli.Noticef("closing %v relayed sessions", len(list))
	for _, s := range list {
		s.notifyDown(envelope.Disconnected, envelope.Notice{Message: ErrShuttingDown.Error()})
		s.close("relay shutdown")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
