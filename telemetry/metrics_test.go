package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if PollCycles == nil || PollFailures == nil || PersistFailures == nil {
		t.Fatal("counters not initialized")
	}
	if Transitions == nil || APIErrors == nil || RoleFailures == nil {
		t.Fatal("counter vectors not initialized")
	}
	if PollDuration == nil || LiveStreams == nil || YouTubeQuotaUsed == nil || YouTubeQuotaBlocked == nil {
		t.Fatal("gauges/histograms not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		record  func()
		counter prometheus.Collector
	}{
		{"api error", func() { RecordAPIError("twitch") }, APIErrors.WithLabelValues("twitch")},
		{"transition", func() { RecordTransition("youtube", DirectionLive) }, Transitions.WithLabelValues("youtube", DirectionLive)},
		{"role failure", func() { RecordRoleFailure("add") }, RoleFailures.WithLabelValues("add")},
		{"poll failure", RecordPollFailure, PollFailures},
		{"persist failure", RecordPersistFailure, PersistFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.record()
			if got := testutil.ToFloat64(tt.counter); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestObservePoll(t *testing.T) {
	Init()
	hist, ok := PollDuration.(prometheus.Histogram)
	if !ok {
		t.Fatalf("PollDuration is %T, want a histogram", PollDuration)
	}
	sampleCount := func() uint64 {
		m := &dto.Metric{}
		if err := hist.Write(m); err != nil {
			t.Fatalf("write histogram: %v", err)
		}
		return m.GetHistogram().GetSampleCount()
	}
	before := testutil.ToFloat64(PollCycles)
	samples := sampleCount()

	ObservePoll(250 * time.Millisecond)

	if got := testutil.ToFloat64(PollCycles); got != before+1 {
		t.Errorf("poll cycles = %v, want %v", got, before+1)
	}
	if got := sampleCount(); got != samples+1 {
		t.Errorf("poll duration samples = %d, want %d", got, samples+1)
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetLiveStreams("twitch", 3)
	if got := testutil.ToFloat64(LiveStreams.WithLabelValues("twitch")); got != 3 {
		t.Errorf("live streams = %v, want 3", got)
	}

	SetYouTubeQuota(9900, true)
	if got := testutil.ToFloat64(YouTubeQuotaUsed); got != 9900 {
		t.Errorf("quota used = %v, want 9900", got)
	}
	if got := testutil.ToFloat64(YouTubeQuotaBlocked); got != 1 {
		t.Errorf("quota exhausted = %v, want 1", got)
	}
	SetYouTubeQuota(0, false)
	if got := testutil.ToFloat64(YouTubeQuotaBlocked); got != 0 {
		t.Errorf("quota exhausted after reset = %v, want 0", got)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
