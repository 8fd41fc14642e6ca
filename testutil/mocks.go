package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// RewriteTransport sends every request to Host regardless of the URL the
// client was built with.
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(strings.TrimPrefix(t.Host, "http://"), "https://")
	req.URL.Host = host
	base := t.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// RewriteClient returns a client whose requests all land on server.
func RewriteClient(server *httptest.Server) *http.Client {
	return &http.Client{Timeout: 5 * time.Second, Transport: &RewriteTransport{Host: server.URL}}
}

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls returns how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// MockStreamsResponse adds a handler for /helix/streams endpoint. Only
// streams whose user_login was requested are returned.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		requested := make(map[string]bool)
		for _, l := range r.URL.Query()["user_login"] {
			requested[strings.ToLower(l)] = true
		}
		data := make([]map[string]interface{}, 0, len(streams))
		for _, s := range streams {
			if login, _ := s["user_login"].(string); requested[strings.ToLower(login)] {
				data = append(data, s)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data}) //nolint:errcheck // test mock response
	}
	m.mu.Lock()
	m.Handlers["/helix/streams"] = handler
	m.mu.Unlock()
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
	m.mu.Lock()
	m.Handlers["/oauth2/token"] = handler
	m.mu.Unlock()
}

// MockYouTubeServer serves channel Atom feeds and the Data API search
// endpoint.
type MockYouTubeServer struct {
	*httptest.Server

	mu sync.Mutex
	// Feeds maps channel id to a feed body; missing channels get 404.
	Feeds map[string]string
	// Live maps channel id to the live video id returned by search.
	Live map[string]string
	// SearchStatus, when non-zero, is returned by every search call.
	SearchStatus int
	feedCalls    int
	searchCalls  int
	lastKey      string
}

// NewMockYouTubeServer creates a mock YouTube server. Point a checker's
// search endpoint at URL+"/".
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{Feeds: make(map[string]string), Live: make(map[string]string)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/feeds/videos.xml"):
			m.feedCalls++
			body, ok := m.Feeds[r.URL.Query().Get("channel_id")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = w.Write([]byte(body))
		case strings.HasSuffix(r.URL.Path, "/search"):
			m.searchCalls++
			m.lastKey = r.URL.Query().Get("key")
			if m.SearchStatus != 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(m.SearchStatus)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"mock error"}}`, m.SearchStatus)
				return
			}
			channel := r.URL.Query().Get("channelId")
			items := []map[string]interface{}{}
			if video, ok := m.Live[channel]; ok {
				items = append(items, map[string]interface{}{
					"id": map[string]string{"kind": "youtube#video", "videoId": video},
					"snippet": map[string]interface{}{
						"channelId":    channel,
						"channelTitle": "Channel " + channel,
						"title":        "Live from " + channel,
						"thumbnails": map[string]interface{}{
							"high": map[string]string{"url": "https://i.ytimg.com/vi/" + video + "/hqdefault_live.jpg"},
						},
					},
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items}) //nolint:errcheck // test mock response
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// SetFeed installs a feed for channel with entries published at the given times.
func (m *MockYouTubeServer) SetFeed(channel string, published ...time.Time) {
	m.mu.Lock()
	m.Feeds[channel] = AtomFeed(channel, published...)
	m.mu.Unlock()
}

// SetLive marks channel as broadcasting video.
func (m *MockYouTubeServer) SetLive(channel, video string) {
	m.mu.Lock()
	m.Live[channel] = video
	m.mu.Unlock()
}

// SetSearchStatus forces every search call to fail with status.
func (m *MockYouTubeServer) SetSearchStatus(status int) {
	m.mu.Lock()
	m.SearchStatus = status
	m.mu.Unlock()
}

func (m *MockYouTubeServer) FeedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feedCalls
}

func (m *MockYouTubeServer) SearchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

// LastAPIKey returns the key query parameter of the latest search.
func (m *MockYouTubeServer) LastAPIKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastKey
}

// AtomFeed renders a minimal YouTube channel feed.
func AtomFeed(channel string, published ...time.Time) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">` + "\n")
	fmt.Fprintf(&b, "<id>yt:channel:%s</id>\n<title>Channel %s</title>\n", channel, channel)
	for i, p := range published {
		fmt.Fprintf(&b, "<entry><id>yt:video:v%d</id><yt:videoId>v%d</yt:videoId><title>Video %d</title><published>%s</published><updated>%s</updated></entry>\n",
			i, i, i, p.UTC().Format(time.RFC3339), p.UTC().Format(time.RFC3339))
	}
	b.WriteString("</feed>\n")
	return b.String()
}

// MockFluxerServer mocks the Fluxer guild/member/role endpoints.
type MockFluxerServer struct {
	*httptest.Server

	mu sync.Mutex
	// Members maps user id to role ids.
	Members map[string][]string
	// Status, when non-zero, is returned by every role mutation.
	Status int
	// Reasons records the audit log reason of each role mutation.
	Reasons []string
	Adds    []string
	Removes []string
	Auth    string
}

// NewMockFluxerServer creates a mock Fluxer API for guildID.
func NewMockFluxerServer(t *testing.T, guildID string) *MockFluxerServer {
	t.Helper()
	m := &MockFluxerServer{Members: make(map[string][]string)}
	prefix := "/guilds/" + guildID
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Auth = r.Header.Get("Authorization")
		path := r.URL.Path
		if !strings.HasPrefix(path, prefix) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
		parts := strings.Split(rest, "/")
		switch {
		case rest == "" && r.Method == http.MethodGet:
			writeJSON(w, map[string]string{"id": guildID, "name": "Test Guild"})
		case len(parts) == 2 && parts[0] == "members" && r.Method == http.MethodGet:
			roles, ok := m.Members[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]interface{}{"user": map[string]string{"id": parts[1]}, "roles": roles})
		case len(parts) == 4 && parts[0] == "members" && parts[2] == "roles":
			if m.Status != 0 {
				w.WriteHeader(m.Status)
				_, _ = w.Write([]byte(`{"message":"mock error"}`))
				return
			}
			user, role := parts[1], parts[3]
			if _, ok := m.Members[user]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			m.Reasons = append(m.Reasons, r.Header.Get("X-Audit-Log-Reason"))
			switch r.Method {
			case http.MethodPut:
				m.Adds = append(m.Adds, user)
				m.Members[user] = append(m.Members[user], role)
			case http.MethodDelete:
				m.Removes = append(m.Removes, user)
				kept := m.Members[user][:0]
				for _, rid := range m.Members[user] {
					if rid != role {
						kept = append(kept, rid)
					}
				}
				m.Members[user] = kept
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

// AddMember registers userID with roles.
func (m *MockFluxerServer) AddMember(userID string, roles ...string) {
	m.mu.Lock()
	m.Members[userID] = append([]string{}, roles...)
	m.mu.Unlock()
}

// SetStatus forces every role mutation to answer status.
func (m *MockFluxerServer) SetStatus(status int) {
	m.mu.Lock()
	m.Status = status
	m.mu.Unlock()
}

// Roles returns the current roles of userID.
func (m *MockFluxerServer) Roles(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.Members[userID]...)
}

// Mutations returns copies of the recorded adds and removes.
func (m *MockFluxerServer) Mutations() (adds, removes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.Adds...), append([]string{}, m.Removes...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// LastAuth returns the Authorization header of the latest request.
func (m *MockFluxerServer) LastAuth() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Auth
}

// LastReason returns the audit log reason of the latest role mutation.
func (m *MockFluxerServer) LastReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Reasons) == 0 {
		return ""
	}
	return m.Reasons[len(m.Reasons)-1]
}
