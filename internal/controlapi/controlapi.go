// Package controlapi is the read-only HTTP/WebSocket observer surface a
// host process can mount alongside an embedded player: GET /health, GET
// /state, GET /metrics, and a GET /ws event relay (spec §6's event stream,
// exposed over the wire for remote observers).
package controlapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meditationplayer/internal/player"
)

// RouterConfig carries the dependencies needed to construct the HTTP
// router, mirroring the teacher's dependency-injection shape for
// testability with httptest.NewServer.
type RouterConfig struct {
	// Player is the embedded playback core (required).
	Player *player.Player

	// Registerer is the Prometheus registry to expose at /metrics. If nil,
	// /metrics is not mounted.
	Registerer *prometheus.Registry

	// CORSOrigins is an optional allow-list; defaults to localhost only.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware, useful for
	// benchmarks and quiet tests.
	DisableLogging bool
}

// NewRouter constructs the HTTP router with all middleware and routes. Pure:
// no goroutines started, no listeners opened, safe for httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	h := &handlers{player: cfg.Player}

	r.Get("/health", h.handleHealth)
	r.Get("/state", h.handleState)
	r.Get("/ws", h.handleWebSocket)

	if cfg.Registerer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registerer, promhttp.HandlerOpts{}))
	}

	return r
}

type handlers struct {
	player *player.Player
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (h *handlers) handleState(w http.ResponseWriter, r *http.Request) {
	body := h.player.Snapshot().ToJSON()
	stats := h.player.QueueStats()
	body["queue"] = map[string]interface{}{
		"enqueued":  stats.Enqueued,
		"processed": stats.Processed,
		"preempted": stats.Preempted,
		"pending":   stats.Pending,
		"running":   stats.Running,
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("controlapi: encode response: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and relays every event on the
// player's event bus as a JSON text message until the client disconnects.
func (h *handlers) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("controlapi: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	handle, ch := h.player.Events()
	defer h.player.Unsubscribe(handle)

	// Drain inbound frames so the read side is serviced and close/ping
	// control frames are processed; this relay accepts no client commands.
	closed := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				once.Do(func() { close(closed) })
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			msg := map[string]interface{}{
				"type":    ev.Type.String(),
				"payload": ev.Payload,
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
