// Command replay-server re-broadcasts a recorded session over websocket with
// its original timing.
//
// Usage:
//
//	go run ./cmd/tools/replay-server -db session.db [flags]
//
// Flags:
//
//	-db       SQLite recording written by the viewer's -record flag (required)
//	-session  Session UUID to replay (default: most recent)
//	-addr     Listen address (default: :6060)
//	-rate     Playback speed multiplier (default: 1)
//	-loop     Restart from the beginning when the session ends
//	-list     List recorded sessions and exit
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/benkuper/Pleiades/internal/broadcast"
	"github.com/benkuper/Pleiades/internal/recorder"
)

func main() {
	dbPath := flag.String("db", "", "SQLite recording to replay")
	sessionFlag := flag.String("session", "", "Session UUID (default: most recent)")
	addr := flag.String("addr", ":6060", "Listen address")
	rate := flag.Float64("rate", 1, "Playback speed multiplier")
	loop := flag.Bool("loop", false, "Loop the session")
	list := flag.Bool("list", false, "List sessions and exit")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "replay-server: -db is required")
		flag.Usage()
		os.Exit(2)
	}

	db, err := recorder.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open recording: %v", err)
	}
	defer db.Close()

	if *list {
		if err := printSessions(db); err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		return
	}

	session, err := pickSession(db, *sessionFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}
	frames, err := recorder.ListFrames(db, session.ID)
	if err != nil {
		log.Fatalf("Failed to load frames: %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("Session %s has no frames", session.ID)
	}
	log.Printf("Replaying session %s from %s: %d frames", session.ID, session.URL, len(frames))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(broadcast.DefaultConfig(), nil)
	srv := &http.Server{Addr: *addr, Handler: hub, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("Starting replay server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	replayer := &broadcast.Replayer{
		Frames: recorder.TimedFrames(frames),
		Rate:   *rate,
		Loop:   *loop,
	}
	err = replayer.Run(ctx, hub)
	switch {
	case err == nil:
		log.Printf("Replay finished (%d frames skipped)", replayer.Skipped())
		// Keep serving the final scene until interrupted.
		<-ctx.Done()
	case errors.Is(err, context.Canceled):
	default:
		log.Printf("Replay stopped: %v", err)
	}

	log.Printf("Shutting down...")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

func pickSession(db *sql.DB, id string) (recorder.Session, error) {
	if id == "" {
		s, err := recorder.LatestSession(db)
		if err != nil {
			return recorder.Session{}, fmt.Errorf("failed to find latest session: %w", err)
		}
		return s, nil
	}
	want, err := uuid.Parse(id)
	if err != nil {
		return recorder.Session{}, fmt.Errorf("invalid -session %q: %w", id, err)
	}
	sessions, err := recorder.ListSessions(db)
	if err != nil {
		return recorder.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == want {
			return s, nil
		}
	}
	return recorder.Session{}, fmt.Errorf("session %s not found", want)
}

func printSessions(db *sql.DB) error {
	sessions, err := recorder.ListSessions(db)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tFRAMES\tREJECTED\tURL")
	for _, s := range sessions {
		dur := "open"
		if s.EndedAt != nil {
			dur = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", s.ID, s.StartedAt.Format(time.RFC3339), dur, s.Frames, s.Rejected, s.URL)
	}
	return tw.Flush()
}
