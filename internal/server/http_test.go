package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/helppeople411-create/rei-voice-pro/internal/config"
	"github.com/helppeople411-create/rei-voice-pro/internal/events"
	"github.com/helppeople411-create/rei-voice-pro/internal/metrics"
	"github.com/helppeople411-create/rei-voice-pro/internal/record"
	"github.com/helppeople411-create/rei-voice-pro/internal/session"
	"github.com/helppeople411-create/rei-voice-pro/internal/storage"
	"github.com/helppeople411-create/rei-voice-pro/internal/transcript"
)

type fakeController struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	disconnects int
	snap        session.Snapshot
	turns       []transcript.Turn
}

func (c *fakeController) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		c.snap = session.Snapshot{State: "closed", Error: c.connectErr.Error()}
		return c.connectErr
	}
	c.snap = session.Snapshot{State: "connecting", Connecting: true, Status: "connecting"}
	return nil
}

func (c *fakeController) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.snap = session.Snapshot{State: "idle"}
	return nil
}

func (c *fakeController) Snapshot() session.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeController) Transcript() []transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

type testServer struct {
	h       *HTTPServer
	ctrl    *fakeController
	store   *record.Store
	bus     *events.Bus
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	ctrl := &fakeController{snap: session.Snapshot{State: "idle"}}
	store := record.NewStore(storage.NewMemory(), logger)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	h := NewHTTPServer(config.HTTPConfig{Address: "127.0.0.1", Port: 8088, Enabled: true},
		logger, ctrl, store, bus, metrics.NewMetrics(reg), reg)
	h.now = func() time.Time { return time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC) }

	return &testServer{h: h, ctrl: ctrl, store: store, bus: bus, handler: h.Handler()}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestMethodChecks(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/state"},
		{http.MethodPost, "/leads"},
		{http.MethodGet, "/session/connect"},
		{http.MethodGet, "/session/disconnect"},
		{http.MethodGet, "/records/import"},
		{http.MethodGet, "/records/clear"},
		{http.MethodGet, "/leads/finalize"},
		{http.MethodDelete, "/records/export"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, "")
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected 405, got %d", rec.Code)
			}
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/session/connect", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", rec.Code)
	}
	var snap session.Snapshot
	decode(t, rec, &snap)
	if !snap.Connecting || snap.Status != "connecting" {
		t.Errorf("Expected connecting snapshot, got %+v", snap)
	}

	rec = s.do(http.MethodGet, "/state", "")
	decode(t, rec, &snap)
	if snap.State != "connecting" {
		t.Errorf("Expected state connecting, got %s", snap.State)
	}

	rec = s.do(http.MethodPost, "/session/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	decode(t, rec, &snap)
	if snap.State != "idle" {
		t.Errorf("Expected state idle, got %s", snap.State)
	}
	if s.ctrl.connects != 1 || s.ctrl.disconnects != 1 {
		t.Errorf("Expected 1 connect and 1 disconnect, got %d and %d", s.ctrl.connects, s.ctrl.disconnects)
	}
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"configuration", fmt.Errorf("%w: Gemini API key is not configured", session.ErrConfig), http.StatusBadRequest},
		{"shut down", session.ErrManagerClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.ctrl.connectErr = tt.err

			rec := s.do(http.MethodPost, "/session/connect", "")
			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}

			var body struct {
				Error string           `json:"error"`
				State session.Snapshot `json:"state"`
			}
			decode(t, rec, &body)
			if body.Error != tt.err.Error() {
				t.Errorf("Expected error %q, got %q", tt.err.Error(), body.Error)
			}
		})
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/transcript", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty array, got %s", rec.Body.String())
	}

	s.ctrl.turns = []transcript.Turn{{User: "Hi", Model: "Hello"}}
	rec = s.do(http.MethodGet, "/transcript", "")
	var turns []transcript.Turn
	decode(t, rec, &turns)
	if len(turns) != 1 || turns[0].Model != "Hello" {
		t.Errorf("Expected one turn, got %+v", turns)
	}
}

func TestLeadsAndOffers(t *testing.T) {
	s := newTestServer(t)

	lead := s.store.CaptureLead(record.LeadFields{PropertyAddress: "123 Main St"})
	price := 100000.0
	s.store.StructureOffer(record.OfferInput{OfferType: string(record.OfferCash), PurchasePrice: &price})

	var leads struct {
		Leads        []record.Lead `json:"leads"`
		ActiveLeadID string        `json:"activeLeadId"`
	}
	decode(t, s.do(http.MethodGet, "/leads", ""), &leads)
	if len(leads.Leads) != 1 || leads.ActiveLeadID != lead.ID {
		t.Errorf("Expected one lead with active id %s, got %+v", lead.ID, leads)
	}

	var offers struct {
		Offers []record.Offer `json:"offers"`
	}
	decode(t, s.do(http.MethodGet, "/offers", ""), &offers)
	if len(offers.Offers) != 1 || offers.Offers[0].PurchasePrice != 100000 {
		t.Errorf("Expected one offer at 100000, got %+v", offers.Offers)
	}

	var finalized struct {
		Finalized bool        `json:"finalized"`
		Lead      record.Lead `json:"lead"`
	}
	decode(t, s.do(http.MethodPost, "/leads/finalize", ""), &finalized)
	if !finalized.Finalized || finalized.Lead.ID != lead.ID {
		t.Errorf("Expected lead %s finalized, got %+v", lead.ID, finalized)
	}

	decode(t, s.do(http.MethodPost, "/leads/finalize", ""), &finalized)
	if finalized.Finalized {
		t.Errorf("Expected nothing to finalize")
	}
}

func TestExportImportClear(t *testing.T) {
	s := newTestServer(t)
	s.store.CaptureLead(record.LeadFields{Name: "Jane"})

	rec := s.do(http.MethodGet, "/records/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if disposition != `attachment; filename="rei-voice-pro-data-2024-03-09.json"` {
		t.Errorf("Unexpected Content-Disposition: %s", disposition)
	}
	exported := rec.Body.String()

	rec = s.do(http.MethodPost, "/records/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(s.store.Leads()) != 0 {
		t.Fatalf("Expected records cleared, got %d leads", len(s.store.Leads()))
	}

	rec = s.do(http.MethodPost, "/records/import", exported)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Success bool `json:"success"`
		Leads   int  `json:"leads"`
	}
	decode(t, rec, &result)
	if !result.Success || result.Leads != 1 {
		t.Errorf("Expected successful import of 1 lead, got %+v", result)
	}
	if leads := s.store.Leads(); len(leads) != 1 || leads[0].Name != "Jane" {
		t.Errorf("Expected Jane restored, got %+v", leads)
	}
}

func TestImportMalformed(t *testing.T) {
	s := newTestServer(t)
	s.store.CaptureLead(record.LeadFields{Name: "Keep"})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"leads not array", `{"leads": {"id": "x"}}`},
		{"lead without id", `{"leads": [{"name": "No Id"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/records/import", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
			var result struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			decode(t, rec, &result)
			if result.Success || result.Error == "" {
				t.Errorf("Expected failure result, got %+v", result)
			}
			if leads := s.store.Leads(); len(leads) != 1 || leads[0].Name != "Keep" {
				t.Errorf("Expected records unchanged, got %+v", leads)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", health["status"])
	}

	rec = s.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rei_http_requests_total") {
		t.Errorf("Expected HTTP request metrics in output")
	}
}

func TestRootAndNotFound(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for root, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?types=state,leads"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial event stream: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial struct {
		Type events.Type      `json:"type"`
		Data session.Snapshot `json:"data"`
	}
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("Failed to read initial event: %v", err)
	}
	if initial.Type != events.TypeState || initial.Data.State != "idle" {
		t.Errorf("Expected initial idle state event, got %+v", initial)
	}

	// Wait for the subscription to be registered before publishing
	deadline := time.Now().Add(2 * time.Second)
	for s.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.bus.Publish(events.TypeVolume, 0.5)
	s.bus.Publish(events.TypeLeads, []string{"lead"})

	var next events.Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if next.Type != events.TypeLeads {
		t.Errorf("Expected filtered stream to skip volume and deliver leads, got %s", next.Type)
	}
}
