// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles      prometheus.Counter
	PollFailures    prometheus.Counter
	PersistFailures prometheus.Counter
	Transitions     *prometheus.CounterVec // platform, direction
	APIErrors       *prometheus.CounterVec // platform
	RoleFailures    *prometheus.CounterVec // operation

	// Histograms (seconds)
	PollDuration prometheus.Observer

	// Gauges
	LiveStreams         *prometheus.GaugeVec // platform
	YouTubeQuotaUsed    prometheus.Gauge
	YouTubeQuotaBlocked prometheus.Gauge // 1=exhausted,0=available
)

// Transition directions used as the "direction" label.
const (
	DirectionLive    = "live"
	DirectionOffline = "offline"
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "puck_poll_cycles_total", Help: "Number of completed poll cycles"})
		PollFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "puck_poll_failures_total", Help: "Number of poll cycles aborted by an error or panic"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "puck_state_persist_failures_total", Help: "Number of failed stream state writes"})
		Transitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "puck_stream_transitions_total", Help: "Live/offline transitions detected"}, []string{"platform", "direction"})
		APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "puck_platform_api_errors_total", Help: "Failed platform API requests"}, []string{"platform"})
		RoleFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "puck_role_failures_total", Help: "Failed live role updates"}, []string{"operation"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "puck_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		LiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "puck_live_streams", Help: "Tracked accounts currently live"}, []string{"platform"})
		YouTubeQuotaUsed = promauto.NewGauge(prometheus.GaugeOpts{Name: "puck_youtube_quota_used_units", Help: "YouTube Data API units spent today (UTC)"})
		YouTubeQuotaBlocked = promauto.NewGauge(prometheus.GaugeOpts{Name: "puck_youtube_quota_exhausted", Help: "YouTube quota exhausted=1 available=0"})
	})
}

// RecordAPIError counts one failed request against a platform API.
func RecordAPIError(platform string) {
	if APIErrors != nil {
		APIErrors.WithLabelValues(platform).Inc()
	}
}

// RecordTransition counts a live or offline transition.
func RecordTransition(platform, direction string) {
	if Transitions != nil {
		Transitions.WithLabelValues(platform, direction).Inc()
	}
}

// ObservePoll records a completed cycle and its duration.
func ObservePoll(d time.Duration) {
	if PollCycles != nil {
		PollCycles.Inc()
	}
	if PollDuration != nil {
		PollDuration.Observe(d.Seconds())
	}
}

func RecordPollFailure() {
	if PollFailures != nil {
		PollFailures.Inc()
	}
}

func RecordPersistFailure() {
	if PersistFailures != nil {
		PersistFailures.Inc()
	}
}

// RecordRoleFailure counts a failed role add or remove.
func RecordRoleFailure(operation string) {
	if RoleFailures != nil {
		RoleFailures.WithLabelValues(operation).Inc()
	}
}

// SetLiveStreams records the number of live accounts on a platform.
func SetLiveStreams(platform string, n int) {
	if LiveStreams != nil {
		LiveStreams.WithLabelValues(platform).Set(float64(n))
	}
}

// SetYouTubeQuota mirrors the YouTube checker's daily counters.
func SetYouTubeQuota(used int, exhausted bool) {
	if YouTubeQuotaUsed != nil {
		YouTubeQuotaUsed.Set(float64(used))
	}
	if YouTubeQuotaBlocked != nil {
		if exhausted {
			YouTubeQuotaBlocked.Set(1)
		} else {
			YouTubeQuotaBlocked.Set(0)
		}
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
