package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/the-alphabet-cartel/puck/stream"
)

// TrackedStream maps one member to their platform accounts. Either account
// may be absent.
type TrackedStream struct {
	TwitchUsername   string `json:"twitch_username,omitempty"`
	YouTubeChannelID string `json:"youtube_channel_id,omitempty"`
	FluxerUserID     string `json:"fluxer_user_id,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
}

// UnmarshalJSON accepts fluxer_user_id as a JSON string or number.
func (t *TrackedStream) UnmarshalJSON(data []byte) error {
	type plain TrackedStream
	var aux struct {
		plain
		FluxerUserID stream.ID `json:"fluxer_user_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = TrackedStream(aux.plain)
	t.FluxerUserID = string(aux.FluxerUserID)
	return nil
}

// TwitchLogin returns the lower-cased Twitch login.
func (t TrackedStream) TwitchLogin() string {
	return strings.ToLower(strings.TrimSpace(t.TwitchUsername))
}

// Keys returns the persistence keys this mapping covers.
func (t TrackedStream) Keys() []string {
	var keys []string
	if login := t.TwitchLogin(); login != "" {
		keys = append(keys, stream.Key(stream.PlatformTwitch, login))
	}
	if ch := strings.TrimSpace(t.YouTubeChannelID); ch != "" {
		keys = append(keys, stream.Key(stream.PlatformYouTube, ch))
	}
	return keys
}

// TrackedFile reads the tracked-stream mapping from disk on every Load so
// edits apply without a restart. A file that fails to parse leaves the last
// good mapping in place.
type TrackedFile struct {
	Path string

	mu   sync.Mutex
	last []TrackedStream
	seen bool
}

func NewTrackedFile(path string) *TrackedFile {
	return &TrackedFile{Path: path}
}

// Load returns the current mapping.
func (f *TrackedFile) Load() []TrackedStream {
	f.mu.Lock()
	defer f.mu.Unlock()

	streams, err := ParseTrackedFile(f.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !f.seen {
			slog.Warn("tracked streams file not found; no streams tracked", slog.String("path", f.Path), slog.String("component", "config"))
		}
		f.seen = true
		f.last = nil
	case err != nil:
		slog.Error("failed to load tracked streams; keeping previous mapping",
			slog.String("path", f.Path), slog.Int("kept", len(f.last)), slog.Any("err", err), slog.String("component", "config"))
	default:
		if !f.seen || len(streams) != len(f.last) {
			slog.Info("tracked streams loaded", slog.Int("count", len(streams)), slog.String("component", "config"))
		}
		f.seen = true
		f.last = streams
	}
	return append([]TrackedStream(nil), f.last...)
}

// ParseTrackedFile reads {"streams": [...]} or a bare list.
func ParseTrackedFile(path string) ([]TrackedStream, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var list []TrackedStream
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	}
	var doc struct {
		Streams []TrackedStream `json:"streams"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Streams, nil
}
