// Package recorder persists stream sessions and their raw frames to SQLite
// so they can be inspected or replayed later.
//
// A Recorder is a stream.Observer. Notifications are queued and written by
// a single goroutine; when the queue is full the notification is dropped and
// counted so the connection loop never waits on disk.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/benkuper/Pleiades/internal/broadcast"
	"github.com/benkuper/Pleiades/internal/stream"
)

// DefaultQueue is the write queue depth used when Open is given zero.
const DefaultQueue = 256

// Session is one recorded connection.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	URL       string     `json:"url"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndError  string     `json:"end_error,omitempty"`
	Frames    int        `json:"frames"`
	Rejected  int        `json:"rejected"`
}

// Frame is one recorded binary frame.
type Frame struct {
	Seq        int64
	SessionID  uuid.UUID
	ReceivedAt time.Time
	Data       []byte
}

// Stats reports recorder throughput.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

type jobKind int

const (
	jobStart jobKind = iota
	jobEnd
	jobFrame
	jobReject
)

type job struct {
	kind    jobKind
	session uuid.UUID
	url     string
	at      time.Time
	data    []byte
	errText string
}

// Recorder writes sessions and frames to a SQLite database.
type Recorder struct {
	db *sql.DB

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	queue  chan job
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ stream.Observer = (*Recorder)(nil)

// Open opens (creating if needed) the database at path, applies the schema
// and starts the writer.
func Open(path string, queue int) (*Recorder, error) {
	if queue <= 0 {
		queue = DefaultQueue
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		db:    db,
		queue: make(chan job, queue),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	log.Printf("[recorder] recording to %s", path)
	return r, nil
}

// OpenDB opens the database at path and migrates it without starting a
// writer. Readers such as the replay server use it directly.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- j:
	default:
		if r.dropped.Add(1) == 1 {
			log.Printf("[recorder] write queue full, dropping (further drops are counted silently)")
		}
	}
}

func (r *Recorder) StateChanged(stream.State) {}

func (r *Recorder) SessionStarted(id uuid.UUID, url string, at time.Time) {
	r.enqueue(job{kind: jobStart, session: id, url: url, at: at})
}

func (r *Recorder) SessionEnded(id uuid.UUID, at time.Time, err error) {
	j := job{kind: jobEnd, session: id, at: at}
	if err != nil {
		j.errText = err.Error()
	}
	r.enqueue(j)
}

// FrameReceived records a copy of frame; the caller may reuse its buffer.
func (r *Recorder) FrameReceived(id uuid.UUID, frame []byte, at time.Time) {
	r.enqueue(job{kind: jobFrame, session: id, at: at, data: append([]byte(nil), frame...)})
}

func (r *Recorder) FrameRejected(id uuid.UUID, _ error) {
	r.enqueue(job{kind: jobReject, session: id})
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for j := range r.queue {
		if err := r.write(j); err != nil {
			if r.failed.Add(1) == 1 {
				log.Printf("[recorder] write failed: %v", err)
			}
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(j job) error {
	var err error
	switch j.kind {
	case jobStart:
		_, err = r.db.Exec(`INSERT INTO sessions (session_id, url, started_at) VALUES (?, ?, ?)`,
			j.session.String(), j.url, j.at.UnixNano())
	case jobEnd:
		_, err = r.db.Exec(`UPDATE sessions SET ended_at = ?, end_error = ? WHERE session_id = ?`,
			j.at.UnixNano(), j.errText, j.session.String())
	case jobFrame:
		_, err = r.db.Exec(`INSERT INTO frames (session_id, received_at, data) VALUES (?, ?, ?)`,
			j.session.String(), j.at.UnixNano(), j.data)
	case jobReject:
		_, err = r.db.Exec(`UPDATE sessions SET rejected = rejected + 1 WHERE session_id = ?`,
			j.session.String())
	}
	return err
}

// Stats returns write counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

// Close flushes queued writes and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	s := r.Stats()
	log.Printf("[recorder] closed: written=%d dropped=%d failed=%d", s.Written, s.Dropped, s.Failed)
	return r.db.Close()
}

// Sessions lists recorded sessions, newest first.
func (r *Recorder) Sessions() ([]Session, error) { return ListSessions(r.db) }

// Frames returns the frames of one session in arrival order.
func (r *Recorder) Frames(id uuid.UUID) ([]Frame, error) { return ListFrames(r.db, id) }

// ErrNoSessions is returned by LatestSession on an empty database.
var ErrNoSessions = errors.New("recorder: no sessions recorded")

// ListSessions lists the sessions in db, newest first.
func ListSessions(db *sql.DB) ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.url, s.started_at, s.ended_at, s.end_error, s.rejected,
		       (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			id      string
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&id, &s.URL, &started, &ended, &s.EndError, &s.Rejected, &s.Frames); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("session id %q: %w", id, err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started session.
func LatestSession(db *sql.DB) (Session, error) {
	sessions, err := ListSessions(db)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrNoSessions
	}
	return sessions[0], nil
}

// ListFrames returns the frames recorded for session id in arrival order.
func ListFrames(db *sql.DB, id uuid.UUID) ([]Frame, error) {
	rows, err := db.Query(`SELECT frame_id, received_at, data FROM frames WHERE session_id = ? ORDER BY frame_id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			f  Frame
			at int64
		)
		if err := rows.Scan(&f.Seq, &at, &f.Data); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.SessionID = id
		f.ReceivedAt = time.Unix(0, at).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// TimedFrames converts recorded frames into replay input, offsets measured
// from the first frame.
func TimedFrames(frames []Frame) []broadcast.TimedFrame {
	if len(frames) == 0 {
		return nil
	}
	start := frames[0].ReceivedAt
	out := make([]broadcast.TimedFrame, len(frames))
	for i, f := range frames {
		off := f.ReceivedAt.Sub(start)
		if off < 0 {
			off = 0
		}
		out[i] = broadcast.TimedFrame{Offset: off, Data: f.Data}
	}
	return out
}
