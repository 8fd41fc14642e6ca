// Package stream defines the Status value shared by the platform adapters, the
// reconciliation engine and the monitor, together with its persisted JSON form.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform tags.
const (
	PlatformTwitch  = "twitch"
	PlatformYouTube = "youtube"
)

// Status is one platform account's live/offline snapshot at a point in time.
// Values are never mutated across cycles; use WithLive or WithMember to derive
// a modified copy.
type Status struct {
	StartedAt        *time.Time
	LastChecked      time.Time
	FluxerUserID     string
	DisplayName      string
	Platform         string
	PlatformUsername string
	StreamTitle      string
	GameOrCategory   string
	ThumbnailURL     string
	StreamURL        string
	ViewerCount      int
	IsLive           bool
}

// New returns a Status stamped with the current time.
func New(platform, username string) Status {
	return Status{
		Platform:         platform,
		PlatformUsername: username,
		LastChecked:      time.Now().UTC(),
	}
}

// Key builds the persistence key for a platform account.
func Key(platform, username string) string { return platform + ":" + username }

// Key returns the persistence key "platform:platform_username".
func (s Status) Key() string { return Key(s.Platform, s.PlatformUsername) }

// WithLive returns a copy with the live flag set to live.
func (s Status) WithLive(live bool) Status {
	s.IsLive = live
	return s
}

// WithMember returns a copy carrying the given member id.
func (s Status) WithMember(id string) Status {
	s.FluxerUserID = id
	return s
}

// ID is a chat-platform identifier read from JSON written either as a string
// or as a bare number. Snowflake ids exceed float64 precision, so numbers are
// kept as their literal text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// record is the on-disk shape. Optional strings are pointers so absent values
// round-trip as null.
type record struct {
	FluxerUserID     ID      `json:"fluxer_user_id"`
	DisplayName      string  `json:"display_name"`
	Platform         string  `json:"platform"`
	PlatformUsername string  `json:"platform_username"`
	IsLive           bool    `json:"is_live"`
	StreamTitle      *string `json:"stream_title"`
	GameOrCategory   *string `json:"game_or_category"`
	ViewerCount      int     `json:"viewer_count"`
	ThumbnailURL     *string `json:"thumbnail_url"`
	StreamURL        *string `json:"stream_url"`
	StartedAt        *string `json:"started_at"`
	LastChecked      string  `json:"last_checked,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// MarshalJSON encodes the persisted state format.
func (s Status) MarshalJSON() ([]byte, error) {
	r := record{
		FluxerUserID:     ID(s.FluxerUserID),
		DisplayName:      s.DisplayName,
		Platform:         s.Platform,
		PlatformUsername: s.PlatformUsername,
		IsLive:           s.IsLive,
		StreamTitle:      optional(s.StreamTitle),
		GameOrCategory:   optional(s.GameOrCategory),
		ViewerCount:      s.ViewerCount,
		ThumbnailURL:     optional(s.ThumbnailURL),
		StreamURL:        optional(s.StreamURL),
	}
	if s.StartedAt != nil {
		v := s.StartedAt.UTC().Format(time.RFC3339Nano)
		r.StartedAt = &v
	}
	lc := s.LastChecked
	if lc.IsZero() {
		lc = time.Now()
	}
	r.LastChecked = lc.UTC().Format(time.RFC3339Nano)
	return json.Marshal(r)
}

// UnmarshalJSON decodes the persisted state format. platform and
// platform_username are required; a missing last_checked decodes as now.
func (s *Status) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Platform == "" || r.PlatformUsername == "" {
		return fmt.Errorf("stream status missing platform or platform_username")
	}
	out := Status{
		FluxerUserID:     string(r.FluxerUserID),
		DisplayName:      r.DisplayName,
		Platform:         r.Platform,
		PlatformUsername: r.PlatformUsername,
		IsLive:           r.IsLive,
		StreamTitle:      deref(r.StreamTitle),
		GameOrCategory:   deref(r.GameOrCategory),
		ViewerCount:      r.ViewerCount,
		ThumbnailURL:     deref(r.ThumbnailURL),
		StreamURL:        deref(r.StreamURL),
		LastChecked:      time.Now().UTC(),
	}
	if r.StartedAt != nil && *r.StartedAt != "" {
		t, err := parseTime(*r.StartedAt)
		if err != nil {
			return fmt.Errorf("started_at: %w", err)
		}
		out.StartedAt = &t
	}
	if r.LastChecked != "" {
		t, err := parseTime(r.LastChecked)
		if err != nil {
			return fmt.Errorf("last_checked: %w", err)
		}
		out.LastChecked = t
	}
	*s = out
	return nil
}

// parseTime accepts RFC 3339 timestamps, with or without a zone designator
// (naive values are taken as UTC).
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Snapshot is the persisted state document: {"streams": {key: status}}.
type Snapshot struct {
	Streams map[string]Status `json:"streams"`
}
