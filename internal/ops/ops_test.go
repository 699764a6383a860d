package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oj-platform/exec-worker/internal/monitor"
)

func TestHealthNotReady(t *testing.T) {
	s := New(":0", monitor.NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Ready {
		t.Error("Ready = true before Ready(true) was called")
	}
	if body.Status != "starting" {
		t.Errorf("Status = %q, want starting", body.Status)
	}
}

func TestHealthReady(t *testing.T) {
	s := New(":0", monitor.NewMetrics())
	s.Ready(true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Ready || body.Status != "ok" {
		t.Errorf("body = %+v, want ready=true status=ok", body)
	}
}
