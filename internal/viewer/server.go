// Package viewer presents the live scene: a thread-safe Presenter store and
// an HTTP server exposing it as JSON, go-echarts pages and a PNG snapshot.
package viewer

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/benkuper/Pleiades/internal/stream"
)

// StatusSource reports the connection status. *stream.Manager implements it.
type StatusSource interface {
	Status() stream.Status
}

// ExtraStatus contributes additional named sections to /api/status.
type ExtraStatus func() map[string]any

// WebServerConfig configures a WebServer.
type WebServerConfig struct {
	Address string
	Store   *Store
	Status  StatusSource
	Extra   ExtraStatus // optional
}

// WebServer serves the scene over HTTP.
type WebServer struct {
	address string
	store   *Store
	status  StatusSource
	extra   ExtraStatus
	server  *http.Server
}

// NewWebServer creates a web server for the given store.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		store:   config.Store,
		status:  config.Status,
		extra:   config.Extra,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route table.
func (ws *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ws.handleHealth)
	mux.HandleFunc("GET /api/objects", ws.handleObjects)
	mux.HandleFunc("GET /api/objects/{id}", ws.handleObject)
	mux.HandleFunc("GET /api/status", ws.handleStatus)
	mux.HandleFunc("GET /debug/scene", ws.handleSceneChart)
	mux.HandleFunc("GET /debug/scene3d", ws.handleScene3DChart)
	mux.HandleFunc("GET /debug/scene.png", ws.handleScenePNG)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return err
	}
	return ws.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[viewer] HTTP server listening on %s", lis.Addr())
		errCh <- ws.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[viewer] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[viewer] HTTP server force close error: %v", err)
		}
	}
	log.Printf("[viewer] HTTP server stopped")
	return nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (ws *WebServer) handleObjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.store.List())
}

func (ws *WebServer) handleObject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid object id")
		return
	}
	obj, ok := ws.store.Get(int32(id))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no such object")
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// statusResponse is the /api/status body.
type statusResponse struct {
	Stream  *stream.Status `json:"stream,omitempty"`
	Objects int            `json:"objects"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Objects: ws.store.Len()}
	if ws.status != nil {
		st := ws.status.Status()
		resp.Stream = &st
	}
	if ws.extra != nil {
		resp.Extra = ws.extra()
	}
	writeJSON(w, http.StatusOK, resp)
}
