package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// staleFactor is how many poll intervals may pass without a completed cycle
// before the service reports not ready.
const staleFactor = 3

// Handlers holds dependencies for the HTTP handlers.
type Handlers struct {
	poller Poller
	db     *sql.DB
	now    func() time.Time
}

func NewHandlers(poller Poller, db *sql.DB) *Handlers {
	return &Handlers{poller: poller, db: db, now: time.Now}
}

// HandleHealthz answers liveness probes; the process being able to serve is
// enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once a poll cycle has completed recently and the
// database, if any, answers.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"poller", h.checkPoller},
	}
	if h.db != nil {
		checks = append(checks, struct {
			name string
			fn   func() error
		}{"database", func() error { return h.db.PingContext(r.Context()) }})
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (h *Handlers) checkPoller() error {
	if h.poller == nil {
		return fmt.Errorf("poller not running")
	}
	last := h.poller.LastSuccess()
	if last.IsZero() {
		return fmt.Errorf("no completed poll cycle yet")
	}
	limit := staleFactor * h.poller.Interval()
	if age := h.now().Sub(last); age > limit {
		return fmt.Errorf("last poll cycle completed %s ago (limit %s)", age.Round(time.Second), limit)
	}
	return nil
}
