// Command synthetic-server broadcasts a synthetic Pleiades scene over
// websocket.
//
// This is useful for testing the viewer without a real sensor. It streams a
// static background cloud plus clusters moving on circles that enter, stay
// and leave.
//
// Usage:
//
//	go run ./cmd/tools/synthetic-server [flags]
//
// Flags:
//
//	-addr      Listen address (default: :6060)
//	-rate      Frame rate in Hz (default: 30)
//	-clusters  Number of concurrent clusters (default: 5)
//	-points    Background points per frame (default: 2000)
//	-seed      Random seed (default: 1)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benkuper/Pleiades/internal/broadcast"
)

func main() {
	addr := flag.String("addr", ":6060", "Listen address")
	rate := flag.Float64("rate", 30, "Frame rate in Hz")
	clusters := flag.Int("clusters", 5, "Number of concurrent clusters")
	points := flag.Int("points", 2000, "Background points per frame")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := broadcast.NewSyntheticGenerator(*seed)
	gen.FrameRate = *rate
	gen.ClusterCount = *clusters
	gen.PointCount = *points

	hub := broadcast.NewHub(broadcast.DefaultConfig(), nil)
	srv := &http.Server{Addr: *addr, Handler: hub, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("Starting synthetic server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	if err := gen.Run(ctx, hub, nil); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("synthetic generator stopped: %v", err)
	}

	log.Printf("Shutting down...")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
