// Package monitor runs the polling loop: it checks tracked accounts on each
// platform at their own cadence, reconciles the results against stored state
// and toggles the live role for every transition.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/the-alphabet-cartel/puck/announce"
	"github.com/the-alphabet-cartel/puck/config"
	"github.com/the-alphabet-cartel/puck/state"
	"github.com/the-alphabet-cartel/puck/stream"
	"github.com/the-alphabet-cartel/puck/telemetry"
)

// summaryEvery is how many cycles pass between summary log lines.
const summaryEvery = 10

// StreamChecker returns a live Status for each identifier currently
// broadcasting.
type StreamChecker interface {
	CheckStreams(ctx context.Context, ids []string) []stream.Status
}

// TrackedSource supplies the tracked-stream mapping; it is read every cycle.
type TrackedSource interface {
	Load() []config.TrackedStream
}

type quotaReporter interface {
	QuotaUsed() int
}

// Options wires a Monitor. Twitch, YouTube and Roles may be nil to disable
// that part.
type Options struct {
	Twitch    StreamChecker
	YouTube   StreamChecker
	Tracked   TrackedSource
	State     *state.Engine
	Roles     RoleClient
	Announcer announce.Announcer

	Interval          time.Duration
	YouTubeMultiplier int
	GuildID           string
	LiveRoleID        string
}

type Monitor struct {
	opts Options

	// Only the polling goroutine touches the cycle counters.
	pollCount    int
	youtubeCycle int

	running     atomic.Bool
	lastSuccess atomic.Int64
	stopOnce    sync.Once
	stopCh      chan struct{}
}

func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultPollInterval
	}
	if opts.YouTubeMultiplier < 1 {
		opts.YouTubeMultiplier = config.DefaultYouTubeMultiplier
	}
	if opts.Announcer == nil {
		opts.Announcer = announce.NewStub("")
	}
	return &Monitor{opts: opts, stopCh: make(chan struct{})}
}

var errNotConfigured = errors.New("monitor: state engine and tracked source are required")

// PollOnce runs a single cycle.
func (m *Monitor) PollOnce(ctx context.Context) error {
	if m.opts.State == nil || m.opts.Tracked == nil {
		return errNotConfigured
	}
	start := time.Now()
	m.pollCount++
	m.youtubeCycle++

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "monitor", "poll", attribute.Int("poll.count", m.pollCount))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))

	tracked := m.opts.Tracked.Load()
	twitchMap, youtubeMap := buildMappings(tracked)

	pollYouTube := len(youtubeMap) > 0 && m.youtubeCycle >= m.opts.YouTubeMultiplier && m.opts.YouTube != nil
	if pollYouTube {
		m.youtubeCycle = 0
	}

	var twitchLive, youtubeLive []stream.Status
	g, gctx := errgroup.WithContext(ctx)
	if m.opts.Twitch != nil {
		g.Go(func() (err error) {
			defer recoverCheck(stream.PlatformTwitch, &err)
			twitchLive = m.opts.Twitch.CheckStreams(gctx, slices.Sorted(maps.Keys(twitchMap)))
			return nil
		})
	}
	if pollYouTube {
		g.Go(func() (err error) {
			defer recoverCheck(stream.PlatformYouTube, &err)
			youtubeLive = m.opts.YouTube.CheckStreams(gctx, slices.Sorted(maps.Keys(youtubeMap)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if !pollYouTube {
		// Hold last cycle's YouTube results until the next metered check.
		for _, s := range m.opts.State.LiveOn(stream.PlatformYouTube) {
			if _, ok := youtubeMap[s.PlatformUsername]; ok {
				youtubeLive = append(youtubeLive, s)
			}
		}
	}

	all := make([]stream.Status, 0, len(twitchLive)+len(youtubeLive))
	for _, s := range twitchLive {
		all = append(all, s.WithMember(twitchMap[s.PlatformUsername]))
	}
	for _, s := range youtubeLive {
		all = append(all, s.WithMember(youtubeMap[s.PlatformUsername]))
	}

	wentLive, wentOffline := m.opts.State.Compare(ctx, all, tracked)

	for _, s := range wentLive {
		telemetry.RecordTransition(s.Platform, telemetry.DirectionLive)
		if s.FluxerUserID == "" {
			log.Debug("live stream has no member mapping; skipping", slog.String("key", s.Key()))
			continue
		}
		log.Info("stream went live", slog.String("key", s.Key()), slog.String("member", s.FluxerUserID), slog.String("title", s.StreamTitle))
		m.addLiveRole(ctx, s)
		if err := m.opts.Announcer.CreateAnnouncement(ctx, s); err != nil {
			log.Error("announcement create failed", slog.String("key", s.Key()), slog.Any("err", err))
		}
	}
	for _, s := range wentOffline {
		telemetry.RecordTransition(s.Platform, telemetry.DirectionOffline)
		if id := memberFor(s, twitchMap, youtubeMap); id != "" {
			s = s.WithMember(id)
		}
		if s.FluxerUserID == "" {
			log.Debug("offline stream has no member mapping; skipping", slog.String("key", s.Key()))
			continue
		}
		log.Info("stream went offline", slog.String("key", s.Key()), slog.String("member", s.FluxerUserID))
		m.removeLiveRole(ctx, s)
		if err := m.opts.Announcer.DeleteAnnouncement(ctx, s); err != nil {
			log.Error("announcement delete failed", slog.String("key", s.Key()), slog.Any("err", err))
		}
	}

	telemetry.SetLiveStreams(stream.PlatformTwitch, len(twitchLive))
	telemetry.SetLiveStreams(stream.PlatformYouTube, len(youtubeLive))

	if m.pollCount%summaryEvery == 0 {
		attrs := []any{
			slog.Int("poll", m.pollCount),
			slog.Int("live", len(all)),
			slog.Int("twitch_tracked", len(twitchMap)),
			slog.Int("youtube_tracked", len(youtubeMap)),
		}
		if q, ok := m.opts.YouTube.(quotaReporter); ok {
			attrs = append(attrs, slog.Int("youtube_quota_used", q.QuotaUsed()))
		}
		log.Info("poll summary", attrs...)
	}

	d := time.Since(start)
	telemetry.ObservePoll(d)
	telemetry.SetSpanSuccess(span)
	m.lastSuccess.Store(time.Now().UnixNano())
	log.Debug("poll complete",
		slog.Int("poll", m.pollCount),
		slog.Bool("youtube_checked", pollYouTube),
		slog.Int("went_live", len(wentLive)),
		slog.Int("went_offline", len(wentOffline)),
		slog.Duration("duration", d))
	return nil
}

// Run polls until ctx is cancelled or Stop is called. A cycle that has
// started always finishes; cancellation is honored between cycles.
func (m *Monitor) Run(ctx context.Context) {
	m.running.Store(true)
	slog.Info("stream monitor started",
		slog.Duration("interval", m.opts.Interval),
		slog.Duration("youtube_interval", m.opts.Interval*time.Duration(m.opts.YouTubeMultiplier)),
		slog.String("component", "monitor"))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for m.running.Load() {
		select {
		case <-ctx.Done():
			m.running.Store(false)
		case <-m.stopCh:
		case <-timer.C:
			m.runCycle(context.WithoutCancel(ctx))
			timer.Reset(m.opts.Interval)
		}
	}
	slog.Info("stream monitor stopped", slog.Int("polls", m.pollCount), slog.String("component", "monitor"))
}

// runCycle isolates a cycle so an error or panic never ends the loop.
func (m *Monitor) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poll cycle panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
				slog.String("component", "monitor"))
			telemetry.RecordPollFailure()
		}
	}()
	if err := m.PollOnce(ctx); err != nil {
		slog.Error("poll cycle failed", slog.Any("err", err), slog.String("component", "monitor"))
		telemetry.RecordPollFailure()
	}
}

// Stop asks Run to return after the current cycle.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.running.Store(false)
		close(m.stopCh)
		slog.Info("stream monitor stopping", slog.String("component", "monitor"))
	})
}

// Running reports whether Run is looping.
func (m *Monitor) Running() bool { return m.running.Load() }

// LastSuccess returns when the last cycle completed, or zero if none has.
func (m *Monitor) LastSuccess() time.Time {
	n := m.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Interval returns the configured poll interval.
func (m *Monitor) Interval() time.Duration { return m.opts.Interval }

// buildMappings returns twitch login → member id and youtube channel → member id.
func buildMappings(tracked []config.TrackedStream) (twitch, youtube map[string]string) {
	twitch = make(map[string]string)
	youtube = make(map[string]string)
	for _, t := range tracked {
		if login := t.TwitchLogin(); login != "" {
			twitch[login] = t.FluxerUserID
		}
		if ch := strings.TrimSpace(t.YouTubeChannelID); ch != "" {
			youtube[ch] = t.FluxerUserID
		}
	}
	return twitch, youtube
}

// recoverCheck turns a panicking platform check into an error so the cycle
// fails without taking down the process.
func recoverCheck(platform string, err *error) {
	if r := recover(); r != nil {
		slog.Error("platform check panicked",
			slog.String("platform", platform),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
			slog.String("component", "monitor"))
		*err = fmt.Errorf("%s check panicked: %v", platform, r)
	}
}

func memberFor(s stream.Status, twitch, youtube map[string]string) string {
	switch s.Platform {
	case stream.PlatformTwitch:
		return twitch[s.PlatformUsername]
	case stream.PlatformYouTube:
		return youtube[s.PlatformUsername]
	}
	return ""
}
