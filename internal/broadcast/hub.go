// Package broadcast serves the binary frame stream to websocket clients.
//
// A Hub fans frames out to every connected client and remembers the last
// frame of each live object so a newly connected client is resynced to the
// current scene before it receives live traffic. The package also carries
// the synthetic scene generator and the session replayer used by the
// development servers.
package broadcast

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/benkuper/Pleiades/internal/timeutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcast: hub closed")

// Config holds configuration for the Hub.
type Config struct {
	// ClientQueue is the per-client frame queue depth. A client that falls
	// this far behind starts losing frames.
	ClientQueue int

	// ResyncWindow bounds how old a remembered frame may be and still be
	// replayed to a new client. Match the clients' liveness window.
	ResyncWindow time.Duration

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration

	// StatsInterval is how often throughput is logged (0 disables).
	StatsInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ClientQueue:   64,
		ResyncWindow:  time.Second,
		WriteTimeout:  5 * time.Second,
		StatsInterval: 5 * time.Second,
	}
}

type remembered struct {
	frame []byte
	seen  time.Time
}

// client is one connected websocket consumer.
type client struct {
	id      string
	ws      *websocket.Conn
	resync  [][]byte
	frameCh chan []byte
	doneCh  chan struct{}
}

// Hub manages websocket clients and frame fan-out.
type Hub struct {
	config   Config
	clock    timeutil.Clock
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	last    map[int32]remembered

	// Stats
	frameCount     atomic.Uint64
	droppedFrames  atomic.Uint64
	clientCount    atomic.Int32
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewHub creates a Hub. A nil clock uses the real clock.
func NewHub(cfg Config, clock timeutil.Clock) *Hub {
	def := DefaultConfig()
	if cfg.ClientQueue <= 0 {
		cfg.ClientQueue = def.ClientQueue
	}
	if cfg.ResyncWindow <= 0 {
		cfg.ResyncWindow = def.ResyncWindow
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		config: cfg,
		clock:  clock,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		last:    make(map[int32]remembered),
	}
}

// Publish validates frame, updates the resync set and queues the frame for
// every client. Slow clients lose frames rather than stalling the hub.
func (h *Hub) Publish(frame []byte) error {
	if h.closed.Load() {
		return ErrClosed
	}
	u, err := wire.Decode(frame)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	h.mu.Lock()
	switch {
	case u.Kind == wire.KindClear:
		h.last = make(map[int32]remembered)
	case u.Leaving():
		delete(h.last, u.ObjectID)
	default:
		h.last[u.ObjectID] = remembered{frame: frame, seen: h.clock.Now()}
	}
	for _, c := range h.clients {
		select {
		case c.frameCh <- frame:
		default:
			h.droppedFrames.Add(1)
		}
	}
	h.mu.Unlock()

	count := h.frameCount.Add(1)
	h.logPeriodicStats(count)
	return nil
}

// logPeriodicStats logs throughput every StatsInterval.
func (h *Hub) logPeriodicStats(frameCount uint64) {
	if h.config.StatsInterval <= 0 {
		return
	}
	h.lastStatsMu.Lock()
	defer h.lastStatsMu.Unlock()

	now := h.clock.Now()
	if h.lastStatsTime.IsZero() {
		h.lastStatsTime = now
		h.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(h.lastStatsTime)
	if elapsed >= h.config.StatsInterval {
		framesInInterval := frameCount - h.lastFrameCount
		log.Printf("[broadcast] Stats: fps=%.1f frames=%d dropped=%d clients=%d live_objects=%d",
			float64(framesInInterval)/elapsed.Seconds(), framesInInterval,
			h.droppedFrames.Load(), h.clientCount.Load(), h.LiveObjects())
		h.lastStatsTime = now
		h.lastFrameCount = frameCount
	}
}

// ServeHTTP upgrades the request and streams frames until the client
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := h.addClient(ws)
	h.wg.Add(1)
	go h.writeLoop(c)

	// Consume inbound messages so close frames are processed.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.removeClient(c.id)
}

// addClient registers ws and snapshots the resync set under the same lock
// as Publish so the client sees neither gaps nor duplicates.
func (h *Hub) addClient(ws *websocket.Conn) *client {
	c := &client{
		id:      uuid.NewString(),
		ws:      ws,
		frameCh: make(chan []byte, h.config.ClientQueue),
		doneCh:  make(chan struct{}),
	}

	h.mu.Lock()
	c.resync = h.resyncLocked()
	h.clients[c.id] = c
	h.mu.Unlock()

	n := h.clientCount.Add(1)
	log.Printf("[broadcast] Client connected: %s from %s (total: %d, resync: %d objects)",
		c.id, ws.RemoteAddr(), n, len(c.resync))
	return c
}

// resyncLocked returns fresh remembered frames ordered by object ID and
// forgets stale ones. Caller holds h.mu.
func (h *Hub) resyncLocked() [][]byte {
	now := h.clock.Now()
	ids := make([]int32, 0, len(h.last))
	for id, r := range h.last {
		if now.Sub(r.seen) > h.config.ResyncWindow {
			delete(h.last, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	frames := make([][]byte, 0, len(ids))
	for _, id := range ids {
		frames = append(frames, h.last[id].frame)
	}
	return frames
}

func (h *Hub) removeClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		close(c.doneCh)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	c.ws.Close()
	log.Printf("[broadcast] Client disconnected: %s (remaining: %d)", id, h.clientCount.Add(-1))
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	write := func(frame []byte) bool {
		c.ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			log.Printf("[broadcast] write to %s failed: %v", c.id, err)
			return false
		}
		return true
	}

	for _, frame := range c.resync {
		if !write(frame) {
			h.removeClient(c.id)
			return
		}
	}
	c.resync = nil

	for {
		select {
		case <-c.doneCh:
			return
		case frame := <-c.frameCh:
			if !write(frame) {
				h.removeClient(c.id)
				return
			}
		}
	}
}

// LiveObjects returns how many objects would be replayed to a new client.
func (h *Hub) LiveObjects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.last)
}

// Close disconnects every client and rejects further frames.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.removeClient(id)
	}
	h.wg.Wait()
	log.Printf("[broadcast] Hub closed")
}

// Stats returns current hub statistics.
func (h *Hub) Stats() HubStats {
	return HubStats{
		FrameCount:  h.frameCount.Load(),
		Dropped:     h.droppedFrames.Load(),
		ClientCount: h.clientCount.Load(),
		LiveObjects: h.LiveObjects(),
	}
}

// HubStats contains hub statistics.
type HubStats struct {
	FrameCount  uint64 `json:"frames"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"clients"`
	LiveObjects int    `json:"live_objects"`
}
