// Command viewer connects to a Pleiades stream server, keeps the live scene
// and serves it over HTTP for inspection.
//
// Usage:
//
//	viewer [-config client.json] [-url ws://host:6060] [-listen :8090]
//	       [-grpc :8091] [-record session.db] [-log ops|diag|trace] [-version]
//
// Settings come from the JSON config file, then PLEIADES_* environment
// variables, then flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/benkuper/Pleiades/internal/config"
	"github.com/benkuper/Pleiades/internal/health"
	"github.com/benkuper/Pleiades/internal/monitoring"
	"github.com/benkuper/Pleiades/internal/recorder"
	"github.com/benkuper/Pleiades/internal/scene"
	"github.com/benkuper/Pleiades/internal/stream"
	"github.com/benkuper/Pleiades/internal/version"
	"github.com/benkuper/Pleiades/internal/viewer"
)

var (
	configPath  = flag.String("config", "", "Path to JSON client config")
	urlFlag     = flag.String("url", "", "Stream URL (ws:// or wss://)")
	listenFlag  = flag.String("listen", "", "HTTP listen address")
	grpcFlag    = flag.String("grpc", "", "gRPC health listen address (\"off\" disables)")
	recordFlag  = flag.String("record", "", "Record sessions to this SQLite file")
	logFlag     = flag.String("log", "", "Log level: off, ops, diag or trace")
	versionFlag = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String("viewer"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	streams, err := monitoring.LogStreams(cfg.GetLogLevel(), os.Stderr)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	scene.SetLogWriters(streams.Ops, streams.Diag, streams.Trace)
	stream.SetLogWriters(streams.Ops, streams.Diag, streams.Trace)
	monitoring.Logf("%s starting", version.String("viewer"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("viewer: %v", err)
	}
}

// loadConfig layers the config file, the environment and explicit flags.
func loadConfig() (*config.ClientConfig, error) {
	cfg := config.EmptyClientConfig()
	if *configPath != "" {
		loaded, err := config.LoadClientConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "url":
			cfg.URL = &v
		case "listen":
			cfg.ListenAddr = &v
		case "grpc":
			if v == "off" {
				v = ""
			}
			cfg.GRPCAddr = &v
		case "record":
			cfg.RecordPath = &v
		case "log":
			cfg.LogLevel = &v
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := viewer.NewStore()
	reg := scene.NewRegistry(store, scene.WithLivenessWindow(cfg.GetLivenessWindow()))

	dialer := stream.NewWebsocketDialer()
	dialer.HandshakeTimeout = cfg.GetHandshakeTimeout()
	dialer.ReadLimit = cfg.GetReadLimitBytes()

	var opts []stream.Option

	var rec *recorder.Recorder
	if path := cfg.GetRecordPath(); path != "" {
		r, err := recorder.Open(path, cfg.GetRecordQueue())
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		rec = r
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("recorder close: %v", err)
			}
		}()
		opts = append(opts, stream.WithObserver(rec))
	}

	if addr := cfg.GetGRPCAddr(); addr != "" {
		hs := health.NewServer()
		if err := hs.Start(addr); err != nil {
			return fmt.Errorf("start gRPC health: %w", err)
		}
		defer hs.Stop()
		opts = append(opts, stream.WithObserver(hs))
	}

	mgr := stream.NewManager(stream.Config{
		URL:            cfg.GetURL(),
		ReconnectDelay: cfg.GetReconnectDelay(),
		TickInterval:   cfg.GetTickInterval(),
	}, dialer, reg, opts...)

	ws := viewer.NewWebServer(viewer.WebServerConfig{
		Address: cfg.GetListenAddr(),
		Store:   store,
		Status:  mgr,
		Extra: func() map[string]any {
			extra := map[string]any{"version": version.Version}
			if rec != nil {
				extra["recorder"] = rec.Stats()
			}
			return extra
		},
	})

	var wg sync.WaitGroup
	webErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := ws.Start(ctx)
		if err != nil {
			cancel()
		}
		webErr <- err
	}()

	err := mgr.Run(ctx)
	wg.Wait()
	if werr := <-webErr; werr != nil {
		return fmt.Errorf("http server: %w", werr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
