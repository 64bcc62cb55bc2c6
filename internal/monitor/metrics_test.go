package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"scope-collector/pkg/protocol"
)

func newTestMonitor() *Monitor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewMonitor(log, "test-1.0")
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_HealthAndVersion(t *testing.T) {
	m := newTestMonitor()
	router := m.Router()

	rec := get(t, router, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}

	rec = get(t, router, "/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("/version status = %d", rec.Code)
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode /version: %v", err)
	}
	if v.Version != "test-1.0" {
		t.Errorf("version = %q, want test-1.0", v.Version)
	}
}

func TestRouter_Runs(t *testing.T) {
	m := newTestMonitor()
	router := m.Router()

	if rec := get(t, router, "/runs/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("/runs/latest before any run = %d, want 404", rec.Code)
	}

	m.Record(protocol.Summary{RunIndex: 1, Rows: 10, Channels: []int{1, 2, 3, 4}})
	m.Record(protocol.Summary{RunIndex: 2, Rows: 10, Channels: []int{1, 2, 4},
		Failed: []protocol.ChannelFailure{{Channel: 3, Reason: "malformed length"}}})

	rec := get(t, router, "/runs/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("/runs/latest = %d", rec.Code)
	}
	var s protocol.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if s.RunIndex != 2 || len(s.Failed) != 1 || s.Failed[0].Channel != 3 {
		t.Errorf("latest summary = %+v", s)
	}

	rec = get(t, router, "/runs/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("/runs/1 = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if s.RunIndex != 1 || len(s.Channels) != 4 {
		t.Errorf("run 1 summary = %+v", s)
	}

	if rec := get(t, router, "/runs/7"); rec.Code != http.StatusNotFound {
		t.Errorf("/runs/7 = %d, want 404", rec.Code)
	}

	rec = get(t, router, "/runs")
	var all []protocol.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(all))
	}
}

func TestRouter_Metrics(t *testing.T) {
	m := newTestMonitor()
	PollAttempts.Inc()

	rec := get(t, m.Router(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scope_poll_attempts_total") {
		t.Error("/metrics does not expose scope_poll_attempts_total")
	}
}

func TestRecord_HistoryLimit(t *testing.T) {
	m := newTestMonitor()
	for i := 1; i <= historyLimit+5; i++ {
		m.Record(protocol.Summary{RunIndex: i})
	}
	if len(m.history) != historyLimit {
		t.Errorf("len(history) = %d, want %d", len(m.history), historyLimit)
	}
	if s, _ := m.Latest(); s.RunIndex != historyLimit+5 {
		t.Errorf("latest = %d, want %d", s.RunIndex, historyLimit+5)
	}
}
