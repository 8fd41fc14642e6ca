// Package twitchapi contains a minimal Twitch Helix client used to detect which
// tracked channels are live, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/the-alphabet-cartel/puck/stream"
	"github.com/the-alphabet-cartel/puck/telemetry"
)

const (
	streamsURL = "https://api.twitch.tv/helix/streams"

	// maxLoginsPerRequest is the Helix limit on user_login params per call.
	maxLoginsPerRequest = 100

	thumbnailWidth  = "640"
	thumbnailHeight = "360"
)

var errUnauthorized = errors.New("twitch rejected app token")

// HelixClient checks live status for batches of Twitch logins.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// NewHelixClient returns a client sharing one HTTP client (15s per-request
// timeout) between the token endpoint and Helix.
func NewHelixClient(clientID, clientSecret string) *HelixClient {
	hc := &http.Client{Timeout: 15 * time.Second}
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: clientID, ClientSecret: clientSecret, HTTPClient: hc},
		ClientID:       clientID,
		HTTPClient:     hc,
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// helixStream is one entry of the /helix/streams data array.
type helixStream struct {
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	Title        string `json:"title"`
	GameName     string `json:"game_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	StartedAt    string `json:"started_at"`
	ViewerCount  int    `json:"viewer_count"`
}

// CheckStreams returns one live Status per login currently broadcasting.
// Logins missing from the result are offline. Batch failures are logged and
// skipped; this never returns an error.
func (hc *HelixClient) CheckStreams(ctx context.Context, logins []string) []stream.Status {
	if len(logins) == 0 {
		return nil
	}
	if _, err := hc.AppTokenSource.Get(ctx); err != nil {
		slog.Warn("skipping twitch check: no valid app token", slog.Any("err", err), slog.String("component", "twitch"))
		telemetry.RecordAPIError(stream.PlatformTwitch)
		return nil
	}

	var live []stream.Status
	for start := 0; start < len(logins); start += maxLoginsPerRequest {
		end := min(start+maxLoginsPerRequest, len(logins))
		batch := logins[start:end]
		streams, err := hc.streamsBatch(ctx, batch)
		if err != nil {
			slog.Error("twitch streams request failed",
				slog.Int("batch", start/maxLoginsPerRequest+1),
				slog.Int("size", len(batch)),
				slog.Any("err", err),
				slog.String("component", "twitch"))
			telemetry.RecordAPIError(stream.PlatformTwitch)
			continue
		}
		for _, s := range streams {
			live = append(live, toStatus(s))
		}
		slog.Debug("twitch batch checked",
			slog.Int("batch", start/maxLoginsPerRequest+1),
			slog.Int("live", len(streams)),
			slog.Int("checked", len(batch)),
			slog.String("component", "twitch"))
	}
	return live
}

// streamsBatch fetches one batch, refreshing the token and retrying once if
// Twitch answers 401.
func (hc *HelixClient) streamsBatch(ctx context.Context, logins []string) ([]helixStream, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	streams, err := hc.getStreams(ctx, tok, logins)
	if !errors.Is(err, errUnauthorized) {
		return streams, err
	}
	slog.Warn("twitch token rejected; refreshing", slog.String("component", "twitch"))
	hc.AppTokenSource.Invalidate()
	tok, err = hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh after 401: %w", err)
	}
	return hc.getStreams(ctx, tok, logins)
}

func (hc *HelixClient) getStreams(ctx context.Context, token string, logins []string) ([]helixStream, error) {
	q := url.Values{}
	for _, l := range logins {
		q.Add("user_login", l)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamsURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("helix streams: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var body struct {
		Data []helixStream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode helix streams: %w", err)
	}
	return body.Data, nil
}

func toStatus(s helixStream) stream.Status {
	login := strings.ToLower(s.UserLogin)
	st := stream.New(stream.PlatformTwitch, login)
	st.IsLive = true
	st.DisplayName = s.UserName
	st.StreamTitle = s.Title
	st.GameOrCategory = s.GameName
	st.ViewerCount = s.ViewerCount
	st.ThumbnailURL = resolveThumbnail(s.ThumbnailURL)
	st.StreamURL = "https://twitch.tv/" + s.UserLogin
	if s.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339, s.StartedAt); err == nil {
			t = t.UTC()
			st.StartedAt = &t
		} else {
			slog.Debug("twitch started_at unparsable", slog.String("value", s.StartedAt), slog.String("login", login))
		}
	}
	return st
}

// resolveThumbnail fills the {width}/{height} template with a fixed 640x360.
func resolveThumbnail(tmpl string) string {
	if tmpl == "" {
		return ""
	}
	return strings.NewReplacer("{width}", thumbnailWidth, "{height}", thumbnailHeight).Replace(tmpl)
}
