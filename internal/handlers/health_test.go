package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/loopmarket/api/internal/domain"
	"github.com/loopmarket/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func performHealthRequest(t *testing.T, path string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReportsBuildAndUptime(t *testing.T) {
	booted := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	now := booted.Add(45 * time.Second)

	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.3.1",
			Environment: "staging",
			StartedAt:   booted,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := performHealthRequest(t, "/healthz", h.Healthz)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for key, want := range map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     "2.3.1",
		"environment": "staging",
		"uptime":      "45s",
	} {
		if body[key] != want {
			t.Errorf("%s: got %v, want %v", key, body[key], want)
		}
	}
}

func TestReadyzPassesWhenAllChecksOK(t *testing.T) {
	now := time.Date(2025, 7, 15, 9, 2, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Version:     "2.3.1",
				Environment: "staging",
				Uptime:      2 * time.Minute,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 8 * time.Millisecond, CheckedAt: now},
					"pubsub":    {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond, CheckedAt: now},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := performHealthRequest(t, "/readyz", h.Readyz)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Errorf("status: got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Errorf("details should be empty, got %v", body.Details)
	}
	if got := body.Checks["firestore"].Status; got != domain.HealthStatusOK {
		t.Errorf("firestore check: got %s", got)
	}
	if body.Checks["firestore"].LatencyMS != 8 {
		t.Errorf("firestore latency: got %d", body.Checks["firestore"].LatencyMS)
	}
}

func TestReadyzAnswers503OnDegradedDependency(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "topic unreachable"},
			},
		},
	}))

	rr := performHealthRequest(t, "/readyz", h.Readyz)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}

	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != domain.HealthStatusDegraded {
		t.Errorf("status: got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: topic unreachable" {
		t.Errorf("details: got %v", body.Details)
	}
}

func TestReadyzAnswers503WhenReportFails(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		err: errors.New("collect failed"),
	}))

	rr := performHealthRequest(t, "/readyz", h.Readyz)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}

	var body readyzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != domain.HealthStatusError {
		t.Errorf("status: got %s", body.Status)
	}
}

func TestReadyzFallsBackToLivenessWithoutSystemService(t *testing.T) {
	now := time.Date(2025, 7, 15, 9, 3, 0, 0, time.UTC)
	h := NewHealthHandlers(WithHealthClock(func() time.Time { return now }))

	rr := performHealthRequest(t, "/readyz", h.Readyz)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Errorf("status: got %v", body["status"])
	}
}
