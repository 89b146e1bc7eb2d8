package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/wire"
)

// Points returns n distinct points for object id.
func Points(id int32, n int) []wire.Vec3 {
	pts := make([]wire.Vec3, n)
	for i := range pts {
		pts[i] = wire.Vec3{X: float32(i), Y: float32(id), Z: float32(i) * 0.5}
	}
	return pts
}

// CloudFrame encodes a cloud frame with n points.
func CloudFrame(t testing.TB, id int32, n int) []byte {
	t.Helper()
	return mustEncode(t, wire.Update{ObjectID: id, Kind: wire.KindCloud, Points: Points(id, n)})
}

// ClusterFrame encodes a cluster frame with n points centred on (id, id, 0).
func ClusterFrame(t testing.TB, id int32, state wire.ClusterState, n int) []byte {
	t.Helper()
	c := wire.Vec3{X: float32(id), Y: float32(id)}
	return mustEncode(t, wire.Update{
		ObjectID: id,
		Kind:     wire.KindCluster,
		Cluster: &wire.ClusterInfo{
			State: state,
			Metrics: wire.ClusterMetrics{
				Centroid: c,
				Velocity: wire.Vec3{X: 1},
				BoxMin:   wire.Vec3{X: c.X - 0.5, Y: c.Y - 0.5, Z: 0},
				BoxMax:   wire.Vec3{X: c.X + 0.5, Y: c.Y + 0.5, Z: 1.8},
			},
		},
		Points: Points(id, n),
	})
}

func mustEncode(t testing.TB, u wire.Update) []byte {
	t.Helper()
	b, err := wire.Encode(u)
	if err != nil {
		t.Fatalf("encode %s: %v", u, err)
	}
	return b
}

// PresenterCall is one recorded Presenter hook.
type PresenterCall struct {
	Op     string
	ID     int32
	Points int
}

type presenterHandle struct{ id int32 }

// RecordingPresenter is a scene.Presenter that records every hook and
// tracks which IDs it currently considers live. Safe for concurrent reads.
type RecordingPresenter struct {
	mu    sync.Mutex
	calls []PresenterCall
	live  map[int32]int
}

// NewRecordingPresenter returns an empty recorder.
func NewRecordingPresenter() *RecordingPresenter {
	return &RecordingPresenter{live: make(map[int32]int)}
}

func (p *RecordingPresenter) OnCreate(id int32, kind wire.Kind, g scene.Geometry) scene.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, PresenterCall{Op: "create", ID: id, Points: len(g.Points())})
	p.live[id] = len(g.Points())
	return &presenterHandle{id: id}
}

func (p *RecordingPresenter) OnUpdate(h scene.Handle, g scene.Geometry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := h.(*presenterHandle).id
	p.calls = append(p.calls, PresenterCall{Op: "update", ID: id, Points: len(g.Points())})
	p.live[id] = len(g.Points())
}

func (p *RecordingPresenter) OnRemove(h scene.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := h.(*presenterHandle).id
	p.calls = append(p.calls, PresenterCall{Op: "remove", ID: id})
	delete(p.live, id)
}

// Calls returns a copy of the recorded hooks in order.
func (p *RecordingPresenter) Calls() []PresenterCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PresenterCall(nil), p.calls...)
}

// Count returns how many hooks of op were recorded.
func (p *RecordingPresenter) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Live returns the IDs created and not yet removed, sorted.
func (p *RecordingPresenter) Live() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int32, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PointCount returns the last known point count for a live id.
func (p *RecordingPresenter) PointCount(id int32) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.live[id]
	return n, ok
}

// ErrConnClosed is returned by FakeConn.ReadFrame after Close.
var ErrConnClosed = errors.New("testutil: connection closed")

// FakeConn is a scripted frame connection. Frames pushed with Push are
// returned by ReadFrame in order; Fail ends the connection with an error.
type FakeConn struct {
	frames chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

// NewFakeConn returns an open connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		frames: make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Push queues a frame for ReadFrame.
func (c *FakeConn) Push(frame []byte) { c.frames <- frame }

// Fail makes the next ReadFrame return err once queued frames are drained.
func (c *FakeConn) Fail(err error) { c.fail <- err }

// ReadFrame returns the next pushed frame.
func (c *FakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, ErrConnClosed
	}
}

// Close unblocks ReadFrame. Safe to call more than once.
func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FrameServer is a websocket server that pushes frames to every connected
// client.
type FrameServer struct {
	*httptest.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	joined  chan struct{}
}

// NewFrameServer starts a server; it is closed by t.Cleanup.
func NewFrameServer(t testing.TB) *FrameServer {
	t.Helper()
	s := &FrameServer{
		clients: make(map[*websocket.Conn]struct{}),
		joined:  make(chan struct{}, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.clients[ws] = struct{}{}
		s.mu.Unlock()
		select {
		case s.joined <- struct{}{}:
		default:
		}

		// Drain control frames until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, ws)
				s.mu.Unlock()
				ws.Close()
				return
			}
		}
	}))
	t.Cleanup(func() {
		s.DropClients()
		s.Server.Close()
	})
	return s
}

// WSURL returns the ws:// URL of the server.
func (s *FrameServer) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// Joined delivers one value per accepted client.
func (s *FrameServer) Joined() <-chan struct{} { return s.joined }

// Clients returns the number of connected clients.
func (s *FrameServer) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Send writes a binary frame to every client.
func (s *FrameServer) Send(frame []byte) {
	s.write(websocket.BinaryMessage, frame)
}

// SendText writes a text message to every client.
func (s *FrameServer) SendText(msg string) {
	s.write(websocket.TextMessage, []byte(msg))
}

func (s *FrameServer) write(mt int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.clients {
		_ = ws.WriteMessage(mt, data)
	}
}

// DropClients closes every client connection abruptly.
func (s *FrameServer) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws := range s.clients {
		ws.Close()
		delete(s.clients, ws)
	}
}
