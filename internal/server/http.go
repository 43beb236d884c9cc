package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helppeople411-create/rei-voice-pro/internal/config"
	"github.com/helppeople411-create/rei-voice-pro/internal/events"
	"github.com/helppeople411-create/rei-voice-pro/internal/metrics"
	"github.com/helppeople411-create/rei-voice-pro/internal/record"
	"github.com/helppeople411-create/rei-voice-pro/internal/session"
	"github.com/helppeople411-create/rei-voice-pro/internal/transcript"
)

const (
	maxImportBytes = 10 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Controller is the session surface driven over HTTP
type Controller interface {
	Connect() error
	Disconnect() error
	Snapshot() session.Snapshot
	Transcript() []transcript.Turn
}

// Records is the record store surface exposed over HTTP
type Records interface {
	Leads() []record.Lead
	Offers() []record.Offer
	ActiveLead() (record.Lead, bool)
	FinalizeLead() (record.Lead, bool)
	Export() ([]byte, error)
	Import(data []byte) error
	Clear()
}

// HTTPServer provides the HTTP API for controlling and observing the assistant
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	session  Controller
	records  Records
	bus      *events.Bus
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	startTime time.Time
	now       func() time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the default registry.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, sess Controller, records Records,
	bus *events.Bus, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:   logger,
		session:  sess,
		records:  records,
		bus:      bus,
		metrics:  m,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The UI is served from a different origin during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		now:       time.Now,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control and observation
	mux.HandleFunc("/state", h.withMetrics("/state", h.handleState))
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("/session/connect", h.withMetrics("/session/connect", h.handleConnect))
	mux.HandleFunc("/session/disconnect", h.withMetrics("/session/disconnect", h.handleDisconnect))
	mux.HandleFunc("/events", h.withMetrics("/events", h.handleEvents))

	// Records
	mux.HandleFunc("/leads", h.withMetrics("/leads", h.handleLeads))
	mux.HandleFunc("/leads/finalize", h.withMetrics("/leads/finalize", h.handleFinalizeLead))
	mux.HandleFunc("/offers", h.withMetrics("/offers", h.handleOffers))
	mux.HandleFunc("/records/export", h.withMetrics("/records/export", h.handleExport))
	mux.HandleFunc("/records/import", h.withMetrics("/records/import", h.handleImport))
	mux.HandleFunc("/records/clear", h.withMetrics("/records/clear", h.handleClear))

	// Prometheus metrics endpoint (not instrumented itself)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	snap := h.session.Snapshot()
	health := map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "rei-voice-pro",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"session": map[string]any{
				"state":   snap.State,
				"attempt": snap.Attempt,
				"retries": snap.Retries,
			},
			"records": map[string]any{
				"leads":  len(h.records.Leads()),
				"offers": len(h.records.Offers()),
			},
			"events": map[string]any{
				"subscribers": h.bus.Subscribers(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleState implements the /state endpoint
func (h *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// handleTranscript implements the /transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	turns := h.session.Transcript()
	if turns == nil {
		turns = []transcript.Turn{}
	}
	h.writeJSON(w, http.StatusOK, turns)
}

// handleConnect implements POST /session/connect
func (h *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.session.Connect(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrConfig):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrManagerClosed):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Connect request failed", slog.String("error", err.Error()))
		h.writeJSON(w, status, map[string]any{
			"error": err.Error(),
			"state": h.session.Snapshot(),
		})
		return
	}

	h.writeJSON(w, http.StatusAccepted, h.session.Snapshot())
}

// handleDisconnect implements POST /session/disconnect
func (h *HTTPServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.session.Disconnect(); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// handleEvents streams bus events over a websocket. The optional types
// query parameter is a comma-separated filter.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	types := parseTypes(r.URL.Query().Get("types"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade event stream", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub, unsubscribe := h.bus.Subscribe(events.DefaultSubscriberBuffer, types...)
	defer unsubscribe()

	h.logger.Debug("Event stream opened", slog.String("remote", r.RemoteAddr))

	// The read side only tracks liveness and the client's close
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("Event stream read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	if wantsType(types, events.TypeState) {
		initial := events.Event{Type: events.TypeState, Data: h.session.Snapshot(), Time: h.now()}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			if dropped := sub.Dropped(); dropped > 0 {
				h.logger.Debug("Event stream closed with dropped events", slog.Uint64("dropped", dropped))
			}
			return
		}
	}
}

func parseTypes(raw string) []events.Type {
	var types []events.Type
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, events.Type(part))
		}
	}
	return types
}

func wantsType(types []events.Type, t events.Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// handleLeads implements the /leads endpoint
func (h *HTTPServer) handleLeads(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	response := map[string]any{"leads": h.records.Leads()}
	if lead, ok := h.records.ActiveLead(); ok {
		response["activeLeadId"] = lead.ID
	}
	h.writeJSON(w, http.StatusOK, response)
}

// handleFinalizeLead implements POST /leads/finalize
func (h *HTTPServer) handleFinalizeLead(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	lead, ok := h.records.FinalizeLead()
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]any{"finalized": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"finalized": true, "lead": lead})
}

// handleOffers implements the /offers endpoint
func (h *HTTPServer) handleOffers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"offers": h.records.Offers()})
}

// handleExport implements GET /records/export as a file download
func (h *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	data, err := h.records.Export()
	if err != nil {
		h.logger.Error("Failed to export records", slog.String("error", err.Error()))
		http.Error(w, "Failed to export records", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("rei-voice-pro-data-%s.json", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImport implements POST /records/import
func (h *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"success": false,
			"error":   "import document too large",
		})
		return
	}

	if err := h.records.Import(data); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, record.ErrMalformedImport) {
			status = http.StatusBadRequest
		}
		h.logger.Warn("Import rejected", slog.String("error", err.Error()))
		h.writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"leads":   len(h.records.Leads()),
		"offers":  len(h.records.Offers()),
	})
}

// handleClear implements POST /records/clear
func (h *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	h.records.Clear()
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "REI Voice Pro",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /state":               "Session snapshot",
			"GET /transcript":          "Completed conversation turns",
			"POST /session/connect":    "Start a voice session",
			"POST /session/disconnect": "End the voice session",
			"GET /events":              "Websocket stream of state, volume, turn, leads and offers events",
			"GET /leads":               "Captured leads",
			"POST /leads/finalize":     "Close the active lead draft",
			"GET /offers":              "Structured offers",
			"GET /records/export":      "Download leads and offers as JSON",
			"POST /records/import":     "Replace leads and offers from an export document",
			"POST /records/clear":      "Delete all leads and offers",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": h.now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
