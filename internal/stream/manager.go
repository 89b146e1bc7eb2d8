package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/timeutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

const (
	DefaultURL            = "ws://127.0.0.1:6060"
	DefaultReconnectDelay = time.Second
	DefaultTickInterval   = 16 * time.Millisecond
)

// State is the connection lifecycle state.
type State int32

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
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds the connection parameters. Zero fields take defaults.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	TickInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the real clock, typically with a timeutil.MockClock.
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

type eventKind int

const (
	evDialed eventKind = iota
	evFrame
	evClosed
)

func (k eventKind) String() string {
	switch k {
	case evDialed:
		return "dial"
	case evFrame:
		return "frame"
	default:
		return "close"
	}
}

// event is a transport signal tagged with the connection attempt that
// produced it.
type event struct {
	gen   uint64
	kind  eventKind
	conn  Conn
	frame []byte
	err   error
}

// Manager owns the connection state machine and is the single writer of
// its Registry. Everything except Status runs on the Run goroutine.
type Manager struct {
	cfg       Config
	dialer    Dialer
	registry  *scene.Registry
	clock     timeutil.Clock
	observers []Observer

	// Loop-owned.
	gen           uint64
	state         State
	conn          Conn
	connDone      chan struct{}
	session       uuid.UUID
	reconnect     timeutil.Timer
	connectWarned bool
	wg            sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

// NewManager wires a dialer to a registry. Run starts the connection.
func NewManager(cfg Config, dialer Dialer, reg *scene.Registry, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		registry: reg,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status = Status{
		State:   Disconnected,
		URL:     cfg.URL,
		Effects: make(map[string]uint64),
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Run connects immediately and keeps the registry in sync with the stream
// until ctx ends. On return the connection is closed and the registry is
// empty. It returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	events := make(chan event, 64)
	ticker := m.clock.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	opsf("connecting to %s (reconnect every %v)", m.cfg.URL, m.cfg.ReconnectDelay)
	m.connect(ctx, events)

	for {
		var reconnectC <-chan time.Time
		if m.reconnect != nil {
			reconnectC = m.reconnect.C()
		}

		select {
		case <-ctx.Done():
			m.shutdown(ctx.Err())
			m.wg.Wait()
			return ctx.Err()
		case ev := <-events:
			m.handleEvent(ctx, ev, events)
		case <-reconnectC:
			m.reconnect = nil
			m.mu.Lock()
			m.status.Reconnects++
			m.mu.Unlock()
			m.connect(ctx, events)
		case <-ticker.C():
			m.tick()
		}
	}
}

func (m *Manager) connect(ctx context.Context, events chan<- event) {
	m.gen++
	gen := m.gen
	m.setState(Connecting)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, err := m.dialer.Dial(ctx, m.cfg.URL)
		select {
		case events <- event{gen: gen, kind: evDialed, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (m *Manager) handleEvent(ctx context.Context, ev event, events chan<- event) {
	if ev.gen != m.gen {
		if ev.kind == evDialed && ev.conn != nil {
			ev.conn.Close()
		}
		tracef("discarding stale %s event from attempt %d (current %d)", ev.kind, ev.gen, m.gen)
		return
	}

	switch ev.kind {
	case evDialed:
		if ev.err != nil {
			m.disconnect(&TransportError{Op: ConnectFailed, URL: m.cfg.URL, Err: ev.err})
			return
		}
		m.open(ctx, ev.conn, events)
	case evFrame:
		m.handleFrame(ev.frame)
	case evClosed:
		m.disconnect(&TransportError{Op: Closed, URL: m.cfg.URL, Err: ev.err})
	}
}

func (m *Manager) open(ctx context.Context, conn Conn, events chan<- event) {
	now := m.clock.Now()
	m.conn = conn
	m.connDone = make(chan struct{})
	m.session = uuid.New()

	if m.connectWarned {
		opsf("connected to %s (session %s) after failed attempts", m.cfg.URL, m.session)
		m.connectWarned = false
	} else {
		opsf("connected to %s (session %s)", m.cfg.URL, m.session)
	}

	m.mu.Lock()
	m.status.SessionID = m.session.String()
	m.status.ConnectedSince = &now
	m.status.LastError = ""
	m.mu.Unlock()
	m.setState(Connected)

	for _, o := range m.observers {
		o.SessionStarted(m.session, m.cfg.URL, now)
	}

	m.wg.Add(1)
	go m.readLoop(ctx, m.gen, conn, m.connDone, events)
}

// readLoop forwards frames from conn until it fails or is torn down.
func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn, done <-chan struct{}, events chan<- event) {
	defer m.wg.Done()
	for {
		frame, err := conn.ReadFrame()
		ev := event{gen: gen, kind: evFrame, frame: frame}
		if err != nil {
			ev = event{gen: gen, kind: evClosed, err: err}
		}
		select {
		case events <- ev:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) handleFrame(frame []byte) {
	now := m.clock.Now()
	for _, o := range m.observers {
		o.FrameReceived(m.session, frame, now)
	}

	u, err := wire.Decode(frame)
	if err != nil {
		m.reject(err, func(s *Status) { s.DecodeErrors++ }, len(frame))
		return
	}

	eff, err := m.registry.ApplyUpdate(u, now)
	if err != nil {
		m.reject(err, func(s *Status) { s.Rejected++ }, len(frame))
		return
	}
	tracef("%s -> %s", u, eff)

	m.mu.Lock()
	m.status.Frames++
	m.status.Bytes += uint64(len(frame))
	m.countEffect(eff)
	m.mu.Unlock()
}

func (m *Manager) reject(err error, count func(*Status), size int) {
	diagf("dropping %d-byte frame: %v", size, err)
	m.mu.Lock()
	m.status.Frames++
	m.status.Bytes += uint64(size)
	count(&m.status)
	m.status.LastError = err.Error()
	m.mu.Unlock()
	for _, o := range m.observers {
		o.FrameRejected(m.session, err)
	}
}

// countEffect must be called with m.mu held.
func (m *Manager) countEffect(eff scene.Effect) {
	switch eff.Kind {
	case scene.EffectNone:
	case scene.EffectClearedAll:
		m.status.Effects[eff.Kind.String()] += uint64(eff.Count)
	default:
		m.status.Effects[eff.Kind.String()]++
	}
}

func (m *Manager) tick() {
	expired := m.registry.ExpireStale(m.clock.Now())
	summary := m.registry.Summary()

	m.mu.Lock()
	m.status.Effects["expired"] += uint64(len(expired))
	m.status.Scene = summary
	m.mu.Unlock()
}

// disconnect tears down the current attempt, empties the registry and arms
// the reconnect timer.
func (m *Manager) disconnect(err *TransportError) {
	now := m.clock.Now()
	wasConnected := m.closeConn()
	cleared := m.registry.Clear()

	switch {
	case err.Op == ConnectFailed && !m.connectWarned:
		opsf("%v; retrying every %v", err, m.cfg.ReconnectDelay)
		m.connectWarned = true
	case err.Op == ConnectFailed:
		tracef("%v", err)
	default:
		opsf("%v; cleared %d object(s), reconnecting in %v", err, cleared, m.cfg.ReconnectDelay)
	}

	if wasConnected {
		for _, o := range m.observers {
			o.SessionEnded(m.session, now, err)
		}
		m.session = uuid.Nil
	}

	m.mu.Lock()
	m.status.LastError = err.Error()
	m.status.SessionID = ""
	m.status.ConnectedSince = nil
	m.status.Effects[scene.EffectClearedAll.String()] += uint64(cleared)
	m.status.Scene = scene.Summary{}
	m.mu.Unlock()
	m.setState(Disconnected)

	m.reconnect = m.clock.NewTimer(m.cfg.ReconnectDelay)
}

func (m *Manager) shutdown(cause error) {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	// Invalidate any dial still in flight.
	m.gen++

	if m.closeConn() {
		now := m.clock.Now()
		for _, o := range m.observers {
			o.SessionEnded(m.session, now, cause)
		}
		m.session = uuid.Nil
	}
	if n := m.registry.Clear(); n > 0 {
		diagf("shutdown cleared %d object(s)", n)
	}

	m.mu.Lock()
	m.status.SessionID = ""
	m.status.ConnectedSince = nil
	m.status.Scene = scene.Summary{}
	m.mu.Unlock()
	m.setState(Disconnected)
	opsf("stopped: %v", cause)
}

// closeConn reports whether a live connection was closed.
func (m *Manager) closeConn() bool {
	if m.conn == nil {
		return false
	}
	close(m.connDone)
	if err := m.conn.Close(); err != nil {
		tracef("close: %v", err)
	}
	m.conn = nil
	m.connDone = nil
	return true
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	diagf("%s -> %s", m.state, s)
	m.state = s

	m.mu.Lock()
	m.status.State = s
	m.status.Generation = m.gen
	m.mu.Unlock()

	for _, o := range m.observers {
		o.StateChanged(s)
	}
}

// Status is a point-in-time view of the connection, safe to serialise.
type Status struct {
	State          State             `json:"state"`
	URL            string            `json:"url"`
	SessionID      string            `json:"session_id,omitempty"`
	ConnectedSince *time.Time        `json:"connected_since,omitempty"`
	Generation     uint64            `json:"generation"`
	Frames         uint64            `json:"frames"`
	Bytes          uint64            `json:"bytes"`
	DecodeErrors   uint64            `json:"decode_errors"`
	Rejected       uint64            `json:"rejected"`
	Reconnects     uint64            `json:"reconnects"`
	Effects        map[string]uint64 `json:"effects"`
	LastError      string            `json:"last_error,omitempty"`
	Scene          scene.Summary     `json:"scene"`
}

// Status returns a copy of the current status. Safe from any goroutine.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.status
	s.Effects = make(map[string]uint64, len(m.status.Effects))
	for k, v := range m.status.Effects {
		s.Effects[k] = v
	}
	if m.status.ConnectedSince != nil {
		t := *m.status.ConnectedSince
		s.ConnectedSince = &t
	}
	if m.status.Scene.ClusterState != nil {
		s.Scene.ClusterState = make(map[string]int, len(m.status.Scene.ClusterState))
		for k, v := range m.status.Scene.ClusterState {
			s.Scene.ClusterState[k] = v
		}
	}
	return s
}

// State returns the current connection state. Safe from any goroutine.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.State
}
