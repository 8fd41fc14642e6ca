// Package youtubeapi detects live YouTube channels in two stages: a free Atom
// feed pre-filter, then a metered Data API live search budgeted against a
// daily quota that resets at UTC midnight.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/the-alphabet-cartel/puck/stream"
	"github.com/the-alphabet-cartel/puck/telemetry"
)

const (
	feedURL = "https://www.youtube.com/feeds/videos.xml?channel_id="

	// SearchCost is the quota charged for one search.list call.
	SearchCost = 100
	// DefaultDailyQuota is the Data API's default project allowance.
	DefaultDailyQuota = 10000

	recencyWindow  = 24 * time.Hour
	feedEntryLimit = 5
)

// Checker holds the YouTube quota state. Counters are guarded by mu so a
// caller may run CheckStreams alongside other work.
type Checker struct {
	APIKey     string
	DailyQuota int
	HTTPClient *http.Client

	feedURL        string
	searchEndpoint string
	now            func() time.Time

	mu        sync.Mutex
	quotaUsed int
	exhausted bool
	quotaDay  string
	svc       *yt.Service
}

// NewChecker returns a Checker. dailyQuota < 1 selects DefaultDailyQuota; a
// nil client gets a 15s timeout client.
func NewChecker(apiKey string, dailyQuota int, hc *http.Client) *Checker {
	if dailyQuota < 1 {
		dailyQuota = DefaultDailyQuota
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Checker{
		APIKey:     apiKey,
		DailyQuota: dailyQuota,
		HTTPClient: hc,
		feedURL:    feedURL,
		now:        time.Now,
	}
	c.quotaDay = c.today()
	return c
}

// CheckStreams returns a live Status for every channel with an active live
// broadcast. Channels are checked one at a time; failures are logged and the
// channel is treated as offline for this call.
func (c *Checker) CheckStreams(ctx context.Context, channelIDs []string) []stream.Status {
	if len(channelIDs) == 0 {
		return nil
	}
	var (
		live     []stream.Status
		apiCalls int
		warned   bool
	)
	for _, id := range channelIDs {
		if !c.recentlyActive(ctx, id) {
			slog.Debug("youtube feed shows no recent activity; skipping search", slog.String("channel", id), slog.String("component", "youtube"))
			continue
		}
		if c.APIKey == "" {
			if !warned {
				slog.Warn("youtube api key not configured; skipping live search", slog.String("component", "youtube"))
				warned = true
			}
			continue
		}
		st, called := c.searchLive(ctx, id)
		if called {
			apiCalls++
		}
		if st != nil {
			live = append(live, *st)
		}
	}
	used, exhausted := c.QuotaUsed(), c.Exhausted()
	telemetry.SetYouTubeQuota(used, exhausted)
	slog.Debug("youtube check complete",
		slog.Int("live", len(live)),
		slog.Int("api_calls", apiCalls),
		slog.Int("channels", len(channelIDs)),
		slog.Int("quota_used", used),
		slog.Bool("quota_exhausted", exhausted),
		slog.String("component", "youtube"))
	return live
}

// recentlyActive reports whether any of the channel's newest feed entries was
// published within the recency window. Errors report true so a flaky feed
// never hides a live stream.
func (c *Checker) recentlyActive(ctx context.Context, channelID string) bool {
	fp := gofeed.NewParser()
	fp.Client = c.HTTPClient
	feed, err := fp.ParseURLWithContext(c.feedURL+channelID, ctx)
	if err != nil {
		slog.Debug("youtube feed check failed; assuming active", slog.String("channel", channelID), slog.Any("err", err), slog.String("component", "youtube"))
		return true
	}
	cutoff := c.now().Add(-recencyWindow)
	for i, item := range feed.Items {
		if i == feedEntryLimit {
			break
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && published.After(cutoff) {
			return true
		}
	}
	return false
}

// searchLive runs one metered search. called reports whether the API was
// reached and the call charged.
func (c *Checker) searchLive(ctx context.Context, channelID string) (st *stream.Status, called bool) {
	if !c.reserve() {
		return nil, false
	}
	svc, err := c.service(ctx)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err), slog.String("component", "youtube"))
		telemetry.RecordAPIError(stream.PlatformYouTube)
		return nil, false
	}
	resp, err := svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			c.charge()
			if gerr.Code == http.StatusForbidden {
				c.markExhausted()
				slog.Warn("youtube quota exhausted; switching to feed-only mode", slog.String("channel", channelID), slog.String("component", "youtube"))
				return nil, true
			}
			slog.Error("youtube search failed", slog.String("channel", channelID), slog.Int("status", gerr.Code), slog.Any("err", err), slog.String("component", "youtube"))
			telemetry.RecordAPIError(stream.PlatformYouTube)
			return nil, true
		}
		slog.Error("youtube search request failed", slog.String("channel", channelID), slog.Any("err", err), slog.String("component", "youtube"))
		telemetry.RecordAPIError(stream.PlatformYouTube)
		return nil, false
	}
	c.charge()
	if len(resp.Items) == 0 {
		return nil, true
	}
	return toStatus(channelID, resp.Items[0]), true
}

func toStatus(channelID string, item *yt.SearchResult) *stream.Status {
	st := stream.New(stream.PlatformYouTube, channelID)
	st.IsLive = true
	if sn := item.Snippet; sn != nil {
		st.DisplayName = sn.ChannelTitle
		st.StreamTitle = sn.Title
		if sn.Thumbnails != nil && sn.Thumbnails.High != nil {
			st.ThumbnailURL = sn.Thumbnails.High.Url
		}
	}
	if item.Id != nil && item.Id.VideoId != "" {
		st.StreamURL = "https://youtube.com/watch?v=" + item.Id.VideoId
	}
	return &st
}

// service lazily builds the Data API client. The key rides on the transport
// because option.WithAPIKey is ignored once WithHTTPClient is given.
func (c *Checker) service(ctx context.Context) (*yt.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil {
		return c.svc, nil
	}
	base := c.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := &http.Client{
		Timeout:   c.HTTPClient.Timeout,
		Transport: &transport.APIKey{Key: c.APIKey, Transport: base},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.searchEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.searchEndpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	c.svc = svc
	return svc, nil
}

func (c *Checker) today() string {
	return c.now().UTC().Format(time.DateOnly)
}

// rollover resets the counters on a new UTC day. Caller holds mu.
func (c *Checker) rollover() {
	if day := c.today(); day != c.quotaDay {
		if c.quotaUsed > 0 || c.exhausted {
			slog.Info("youtube quota reset for new day", slog.String("day", day), slog.Int("previous_used", c.quotaUsed), slog.String("component", "youtube"))
		}
		c.quotaDay = day
		c.quotaUsed = 0
		c.exhausted = false
	}
}

// reserve reports whether one more search fits in today's budget. A call
// that would overrun the ceiling marks the quota exhausted instead.
func (c *Checker) reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	if c.exhausted {
		return false
	}
	if c.quotaUsed+SearchCost > c.DailyQuota {
		c.exhausted = true
		slog.Warn("youtube daily quota ceiling reached; switching to feed-only mode",
			slog.Int("used", c.quotaUsed), slog.Int("limit", c.DailyQuota), slog.String("component", "youtube"))
		return false
	}
	return true
}

func (c *Checker) charge() {
	c.mu.Lock()
	c.quotaUsed += SearchCost
	c.mu.Unlock()
}

func (c *Checker) markExhausted() {
	c.mu.Lock()
	c.exhausted = true
	c.mu.Unlock()
}

// QuotaUsed returns the units spent so far today (UTC).
func (c *Checker) QuotaUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.quotaUsed
}

// Exhausted reports whether metered searches are suspended for today.
func (c *Checker) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.exhausted
}
