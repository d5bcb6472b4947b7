// Package net exposes the HTTP surface: the websocket endpoint that feeds
// the gateway, plus health and diagnostics handlers.
package net

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	server "paddle-arena/server"
	"paddle-arena/server/internal/telemetry"
	"paddle-arena/server/logging"
)

const (
	readLimit = 64 * 1024
	pongWait  = 60 * time.Second
)

// Handlers bundles the HTTP endpoints around one gateway hub.
type Handlers struct {
	hub       *server.Hub
	counters  *telemetry.Counters
	publisher logging.Publisher
	upgrader  websocket.Upgrader
	started   time.Time
}

func NewHandlers(hub *server.Hub, counters *telemetry.Counters, publisher logging.Publisher) *Handlers {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Handlers{
		hub:       hub,
		counters:  counters,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Mux routes the full HTTP surface.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/diagnostics", h.handleDiagnostics)
	return mux
}

// handleWS upgrades the connection and pumps inbound frames into the hub.
// The identity comes from the query string; the surrounding platform fronts
// this endpoint with its own auth and passes the verified id through.
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity")
	if identityID == "" {
		http.Error(w, "identity required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.publisher.Publish(r.Context(), logging.Event{
			Type:     "net.upgrade_failed",
			Severity: logging.SeverityWarn,
			Category: logging.CategoryNetwork,
			Actor:    logging.EntityRef{ID: identityID, Kind: logging.EntityKindConnection},
			Extra:    map[string]any{"error": err.Error()},
		})
		return
	}

	h.hub.Connect(identityID, conn)
	go h.readPump(identityID, conn)
}

func (h *Handlers) readPump(identityID string, conn *websocket.Conn) {
	defer h.hub.Disconnect(identityID)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.Dispatch(identityID, frame)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type diagnosticsResponse struct {
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Connections   int               `json:"connections"`
	Counters      map[string]uint64 `json:"counters,omitempty"`
}

func (h *Handlers) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	resp := diagnosticsResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Connections:   h.hub.ConnectionCount(),
	}
	if h.counters != nil {
		resp.Counters = h.counters.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     "net.diagnostics_encode_failed",
			Severity: logging.SeverityError,
			Category: logging.CategorySystem,
			Extra:    map[string]any{"error": err.Error()},
		})
	}
}
