package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/the-alphabet-cartel/puck/telemetry"
	"github.com/the-alphabet-cartel/puck/testutil"
)

type fakePoller struct {
	last     time.Time
	interval time.Duration
}

func (p fakePoller) LastSuccess() time.Time  { return p.last }
func (p fakePoller) Interval() time.Duration { return p.interval }

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	rr := serve(NewMux(nil, nil), "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		poller     Poller
		wantStatus int
		wantCheck  string
	}{
		{"recent cycle", fakePoller{last: time.Now().Add(-time.Minute), interval: 90 * time.Second}, http.StatusOK, ""},
		{"no cycle yet", fakePoller{interval: 90 * time.Second}, http.StatusServiceUnavailable, "poller"},
		{"stale cycle", fakePoller{last: time.Now().Add(-5 * time.Minute), interval: 90 * time.Second}, http.StatusServiceUnavailable, "poller"},
		{"no poller", nil, http.StatusServiceUnavailable, "poller"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(NewMux(tt.poller, nil), "/readyz", nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if tt.wantCheck == "" {
				if resp["status"] != "ready" {
					t.Errorf("status = %q, want ready", resp["status"])
				}
				return
			}
			if resp["status"] != "not_ready" || resp["failed_check"] != tt.wantCheck {
				t.Errorf("response = %v", resp)
			}
		})
	}
}

func TestReadyzWithDatabase(t *testing.T) {
	db := testutil.SetupTestDB(t)
	p := fakePoller{last: time.Now(), interval: time.Minute}
	if rr := serve(NewMux(p, db), "/readyz", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}

	_ = db.Close()
	rr := serve(NewMux(p, db), "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "database") {
		t.Fatalf("closed db: status %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestCorrelationHeader(t *testing.T) {
	h := NewMux(nil, nil)

	rr := serve(h, "/healthz", http.Header{"X-Correlation-Id": {"abc-123"}})
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("echoed correlation id = %q", got)
	}

	rr = serve(h, "/healthz", nil)
	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 36 {
		t.Errorf("generated correlation id = %q, want a uuid", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.PollCycles.Inc()
	rr := serve(NewMux(nil, nil), "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "puck_poll_cycles_total") {
		t.Error("metrics output missing puck_poll_cycles_total")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	if rr := serve(NewMux(nil, nil), "/vods", nil); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Start(ctx, nil, nil, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
