package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/testutil"
	"github.com/benkuper/Pleiades/internal/timeutil"
	"github.com/benkuper/Pleiades/internal/wire"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type dialResult struct {
	conn Conn
	err  error
}

// scriptedDialer hands out queued results in order and blocks until one is
// queued or ctx ends.
type scriptedDialer struct {
	mu      sync.Mutex
	calls   int
	results chan dialResult
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{results: make(chan dialResult, 8)}
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptedDialer) accept() *testutil.FakeConn {
	c := testutil.NewFakeConn()
	d.results <- dialResult{conn: c}
	return c
}

func (d *scriptedDialer) refuse(err error) {
	d.results <- dialResult{err: err}
}

type recordingObserver struct {
	NopObserver

	mu       sync.Mutex
	states   []State
	started  []uuid.UUID
	ended    []uuid.UUID
	frames   int
	rejected []error
}

func (o *recordingObserver) StateChanged(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) SessionStarted(id uuid.UUID, _ string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, id)
}

func (o *recordingObserver) SessionEnded(id uuid.UUID, _ time.Time, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, id)
}

func (o *recordingObserver) FrameReceived(uuid.UUID, []byte, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
}

func (o *recordingObserver) FrameRejected(_ uuid.UUID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, err)
}

type observed struct {
	states   []State
	started  []uuid.UUID
	ended    []uuid.UUID
	frames   int
	rejected []error
}

func (o *recordingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return observed{
		states:   append([]State(nil), o.states...),
		started:  append([]uuid.UUID(nil), o.started...),
		ended:    append([]uuid.UUID(nil), o.ended...),
		frames:   o.frames,
		rejected: append([]error(nil), o.rejected...),
	}
}

type harness struct {
	clock     *timeutil.MockClock
	dialer    *scriptedDialer
	presenter *testutil.RecordingPresenter
	observer  *recordingObserver
	mgr       *Manager
	cancel    context.CancelFunc
	done      chan error
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func startHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     timeutil.NewMockClock(epoch),
		dialer:    newScriptedDialer(),
		presenter: testutil.NewRecordingPresenter(),
		observer:  &recordingObserver{},
		done:      make(chan error, 1),
	}
	reg := scene.NewRegistry(h.presenter)
	h.mgr = NewManager(Config{URL: "ws://pleiades.test:6060"}, h.dialer, reg,
		WithClock(h.clock), WithObserver(h.observer))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("Run did not return after cancel")
		}
	})
	return h
}

func (h *harness) connect(t *testing.T) *testutil.FakeConn {
	t.Helper()
	conn := h.dialer.accept()
	require.Eventually(t, func() bool { return h.mgr.State() == Connected }, waitFor, poll)
	return conn
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
		return nil
	}
}

func TestManager_FirstConnectIsImmediate(t *testing.T) {
	h := startHarness(t)

	require.Eventually(t, func() bool { return h.dialer.Calls() == 1 }, waitFor, poll)
	assert.Equal(t, Connecting, h.mgr.State())

	h.connect(t)
	st := h.mgr.Status()
	assert.Equal(t, "ws://pleiades.test:6060", st.URL)
	assert.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.ConnectedSince)
	assert.Equal(t, epoch, *st.ConnectedSince)
	assert.Equal(t, uint64(1), st.Generation)
}

func TestManager_FramesReachRegistry(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)

	conn.Push(testutil.CloudFrame(t, 7, 2))
	conn.Push(testutil.CloudFrame(t, 7, 3))

	require.Eventually(t, func() bool {
		n, ok := h.presenter.PointCount(7)
		return ok && n == 3
	}, waitFor, poll)
	assert.Equal(t, []int32{7}, h.presenter.Live())

	require.Eventually(t, func() bool { return h.mgr.Status().Frames == 2 }, waitFor, poll)
	st := h.mgr.Status()
	assert.Equal(t, uint64(1), st.Effects["created"])
	assert.Equal(t, uint64(1), st.Effects["updated"])
	assert.Equal(t, uint64(len(testutil.CloudFrame(t, 7, 2))+len(testutil.CloudFrame(t, 7, 3))), st.Bytes)
}

func TestManager_ExpiresOnTick(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)

	conn.Push(testutil.CloudFrame(t, 7, 2))
	require.Eventually(t, func() bool { return len(h.presenter.Live()) == 1 }, waitFor, poll)

	h.clock.Advance(scene.DefaultLivenessWindow)
	assert.Never(t, func() bool { return h.presenter.Count("remove") > 0 }, 100*time.Millisecond, poll,
		"an object exactly one window old must survive")

	h.clock.Advance(DefaultTickInterval)
	require.Eventually(t, func() bool { return h.presenter.Count("remove") == 1 }, waitFor, poll)
	assert.Empty(t, h.presenter.Live())
	require.Eventually(t, func() bool { return h.mgr.Status().Effects["expired"] == 1 }, waitFor, poll)
	assert.Equal(t, Connected, h.mgr.State())
}

func TestManager_BadFramesAreDropped(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)

	conn.Push([]byte{0x00, 1, 0})
	conn.Push(append(testutil.CloudFrame(t, 1, 1), 9))
	conn.Push(testutil.CloudFrame(t, 4, 2))
	// Same id, different kind.
	conn.Push(testutil.ClusterFrame(t, 4, wire.ClusterStable, 1))

	require.Eventually(t, func() bool {
		st := h.mgr.Status()
		return st.DecodeErrors == 2 && st.Rejected == 1
	}, waitFor, poll)

	assert.Equal(t, Connected, h.mgr.State())
	assert.Equal(t, []int32{4}, h.presenter.Live())
	n, _ := h.presenter.PointCount(4)
	assert.Equal(t, 2, n)

	obs := h.observer.snapshot()
	assert.Equal(t, 4, obs.frames)
	require.Len(t, obs.rejected, 3)
	assert.ErrorIs(t, obs.rejected[0], wire.ErrTruncated)
	assert.ErrorIs(t, obs.rejected[1], wire.ErrMisalignedPayload)
	assert.ErrorIs(t, obs.rejected[2], scene.ErrKindMismatch)
	assert.Contains(t, h.mgr.Status().LastError, "does not match")
}

func TestManager_ClearFrame(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)

	for _, id := range []int32{1, 2} {
		conn.Push(testutil.CloudFrame(t, id, 1))
	}
	conn.Push(wire.ClearFrame())

	require.Eventually(t, func() bool { return h.presenter.Count("remove") == 2 }, waitFor, poll)
	require.Eventually(t, func() bool { return h.mgr.Status().Effects["cleared"] == 2 }, waitFor, poll)
	assert.Equal(t, Connected, h.mgr.State())
}

func TestManager_DisconnectClearsAndReconnectsAfterDelay(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)
	firstSession := h.mgr.Status().SessionID

	for _, id := range []int32{1, 2, 3} {
		conn.Push(testutil.ClusterFrame(t, id, wire.ClusterStable, 4))
	}
	require.Eventually(t, func() bool { return len(h.presenter.Live()) == 3 }, waitFor, poll)

	conn.Fail(io.EOF)
	require.Eventually(t, func() bool {
		return h.mgr.State() == Disconnected && h.clock.PendingTimers() == 1
	}, waitFor, poll)
	assert.Equal(t, 3, h.presenter.Count("remove"))
	assert.Empty(t, h.presenter.Live())
	assert.True(t, conn.Closed())

	st := h.mgr.Status()
	assert.Contains(t, st.LastError, "closed")
	assert.Empty(t, st.SessionID)
	assert.Nil(t, st.ConnectedSince)

	h.clock.Advance(DefaultReconnectDelay - time.Millisecond)
	assert.Never(t, func() bool { return h.dialer.Calls() > 1 }, 100*time.Millisecond, poll)

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return h.dialer.Calls() == 2 }, waitFor, poll)

	conn2 := h.connect(t)
	assert.Empty(t, h.presenter.Live(), "reconnect starts from an empty scene")
	st = h.mgr.Status()
	assert.Equal(t, uint64(1), st.Reconnects)
	assert.Equal(t, uint64(2), st.Generation)
	assert.NotEqual(t, firstSession, st.SessionID)

	conn2.Push(testutil.CloudFrame(t, 9, 1))
	require.Eventually(t, func() bool { return len(h.presenter.Live()) == 1 }, waitFor, poll)

	obs := h.observer.snapshot()
	require.Len(t, obs.started, 2)
	require.Len(t, obs.ended, 1)
	assert.Equal(t, obs.started[0], obs.ended[0])
	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected}, obs.states)
}

func TestManager_ConnectFailureRetries(t *testing.T) {
	h := startHarness(t)
	refused := errors.New("connection refused")

	h.dialer.refuse(refused)
	require.Eventually(t, func() bool { return h.clock.PendingTimers() == 1 }, waitFor, poll)
	assert.Equal(t, Disconnected, h.mgr.State())
	assert.Contains(t, h.mgr.Status().LastError, "connect failed")

	h.dialer.refuse(refused)
	h.clock.Advance(DefaultReconnectDelay)
	require.Eventually(t, func() bool {
		return h.dialer.Calls() == 2 && h.clock.PendingTimers() == 1
	}, waitFor, poll)

	h.clock.Advance(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return h.dialer.Calls() == 3 }, waitFor, poll)
	h.connect(t)
	assert.Empty(t, h.mgr.Status().LastError)
	assert.Equal(t, uint64(2), h.mgr.Status().Reconnects)

	// No session was established for the failed attempts.
	obs := h.observer.snapshot()
	assert.Len(t, obs.started, 1)
	assert.Empty(t, obs.ended)
}

func TestManager_ShutdownClearsScene(t *testing.T) {
	h := startHarness(t)
	conn := h.connect(t)

	conn.Push(testutil.CloudFrame(t, 1, 1))
	conn.Push(testutil.CloudFrame(t, 2, 1))
	require.Eventually(t, func() bool { return len(h.presenter.Live()) == 2 }, waitFor, poll)

	err := h.stop(t)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.presenter.Live())
	assert.True(t, conn.Closed())
	assert.Equal(t, Disconnected, h.mgr.State())
	assert.Len(t, h.observer.snapshot().ended, 1)
}

func TestManager_ShutdownWhileDialing(t *testing.T) {
	h := startHarness(t)
	require.Eventually(t, func() bool { return h.dialer.Calls() == 1 }, waitFor, poll)

	err := h.stop(t)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Disconnected, h.mgr.State())
}

func TestManager_StaleEventsDiscarded(t *testing.T) {
	p := testutil.NewRecordingPresenter()
	reg := scene.NewRegistry(p)
	clock := timeutil.NewMockClock(epoch)
	m := NewManager(Config{}, newScriptedDialer(), reg, WithClock(clock))
	m.gen = 3
	events := make(chan event, 1)
	ctx := context.Background()

	staleConn := testutil.NewFakeConn()
	m.handleEvent(ctx, event{gen: 2, kind: evDialed, conn: staleConn}, events)
	assert.True(t, staleConn.Closed(), "a late connection from an old attempt is closed")
	assert.Nil(t, m.conn)
	assert.Equal(t, Disconnected, m.state)

	m.handleEvent(ctx, event{gen: 2, kind: evFrame, frame: testutil.CloudFrame(t, 5, 1)}, events)
	assert.Equal(t, 0, reg.Len())

	m.handleEvent(ctx, event{gen: 1, kind: evClosed, err: io.EOF}, events)
	assert.Nil(t, m.reconnect, "a stale close must not arm a reconnect")
	assert.Equal(t, 0, clock.PendingTimers())
	assert.Empty(t, p.Calls())
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{}, newScriptedDialer(), scene.NewRegistry(nil))
	cfg := m.Config()
	assert.Equal(t, DefaultURL, cfg.URL)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 16*time.Millisecond, cfg.TickInterval)

	st := m.Status()
	assert.Equal(t, Disconnected, st.State)
	assert.NotNil(t, st.Effects)
}

func TestStateText(t *testing.T) {
	b, err := Connected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(b))
	assert.Equal(t, "state(9)", State(9).String())
}

func TestTransportError(t *testing.T) {
	err := error(&TransportError{Op: ConnectFailed, URL: "ws://x", Err: io.ErrUnexpectedEOF})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "stream ws://x: connect failed: unexpected EOF", err.Error())

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ConnectFailed, te.Op)

	assert.Equal(t, "stream ws://x: closed", (&TransportError{Op: Closed, URL: "ws://x"}).Error())
}
