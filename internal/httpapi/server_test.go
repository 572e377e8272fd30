package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/you/gnasty-alerts/internal/scheduler"
)

type fakeEngine struct {
	mu     sync.Mutex
	status scheduler.Status
	calls  []string
}

func (e *fakeEngine) record(name string) {
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
}

func (e *fakeEngine) Pause()  { e.record("pause"); e.status.Paused = true }
func (e *fakeEngine) Resume() { e.record("resume"); e.status.Paused = false }
func (e *fakeEngine) Skip()   { e.record("skip") }
func (e *fakeEngine) Mute()   { e.record("mute"); e.status.Muted = true }
func (e *fakeEngine) Unmute() { e.record("unmute"); e.status.Muted = false }

func (e *fakeEngine) Status() scheduler.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *fakeEngine) Subscribe(chan scheduler.Status)   {}
func (e *fakeEngine) Unsubscribe(chan scheduler.Status) {}

type fakeStore struct {
	rows []AlertRow
}

func (s *fakeStore) CountAlerts(_ context.Context, _ Filters) (int64, error) {
	return int64(len(s.rows)), nil
}

func (s *fakeStore) ListAlerts(_ context.Context, f Filters) ([]AlertRow, error) {
	return s.rows, nil
}

func newTestServer() (*Server, *fakeEngine, *fakeStore) {
	engine := &fakeEngine{}
	store := &fakeStore{rows: []AlertRow{{EventID: 1, Channel: "streamer", Outcome: "played"}}}
	return New(engine, store, Options{}), engine, store
}

func TestStatusEndpoint(t *testing.T) {
	srv, engine, _ := newTestServer()
	engine.status.Playing = true
	engine.status.Backlog = 2

	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	var st scheduler.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Playing || st.Backlog != 2 {
		t.Fatalf("got %+v", st)
	}
}

func TestControlEndpointsMutateEngine(t *testing.T) {
	srv, engine, _ := newTestServer()

	for _, name := range []string{"pause", "resume", "skip", "mute", "unmute"} {
		rr := httptest.NewRecorder()
		srv.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/control/"+name, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", name, rr.Code)
		}
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	want := []string{"pause", "resume", "skip", "mute", "unmute"}
	if len(engine.calls) != len(want) {
		t.Fatalf("calls %v, want %v", engine.calls, want)
	}
	for i, name := range want {
		if engine.calls[i] != name {
			t.Fatalf("calls %v, want %v", engine.calls, want)
		}
	}
}

func TestControlRejectsGet(t *testing.T) {
	srv, engine, _ := newTestServer()
	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/control/skip", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rr.Code)
	}
	if len(engine.calls) != 0 {
		t.Fatal("GET must not reach the engine")
	}
}

func TestAlertsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()
	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/alerts?limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var rows []AlertRow
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Channel != "streamer" {
		t.Fatalf("rows %+v", rows)
	}
}

func TestAlertsBadLimit(t *testing.T) {
	srv, _, _ := newTestServer()
	rr := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/alerts?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{}
	values.Set("limit", "20")
	values.Set("order", "asc")
	values.Set("channel", "A,b")
	values.Add("outcome", "played")
	values.Add("outcome", "skipped")
	values.Set("since", "2026-01-02T15:04:05Z")

	f, err := ParseFilters(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != 20 || f.Order != OrderAsc {
		t.Fatalf("got %+v", f)
	}
	if len(f.Channels) != 2 || f.Channels[0] != "a" {
		t.Fatalf("channels %v", f.Channels)
	}
	if len(f.Outcomes) != 2 {
		t.Fatalf("outcomes %v", f.Outcomes)
	}
	if f.Since == nil {
		t.Fatal("since not parsed")
	}
}

func TestParseFiltersRejectsBadOrder(t *testing.T) {
	values := url.Values{}
	values.Set("order", "sideways")
	if _, err := ParseFilters(values); err == nil {
		t.Fatal("expected error")
	}
}
