// Package announce defines the stream announcement collaborator. Only a
// logging stub exists; posting embeds to the announcement channel is not
// implemented.
package announce

import (
	"context"
	"log/slog"

	"github.com/the-alphabet-cartel/puck/stream"
)

// Announcer posts, refreshes and removes go-live announcements.
type Announcer interface {
	CreateAnnouncement(ctx context.Context, s stream.Status) error
	UpdateScreenshot(ctx context.Context, s stream.Status) error
	DeleteAnnouncement(ctx context.Context, s stream.Status) error
}

// Stub satisfies Announcer and only logs.
type Stub struct {
	ChannelID string
}

func NewStub(channelID string) *Stub {
	slog.Debug("announcer initialized (stub)", slog.String("channel", channelID), slog.String("component", "announce"))
	return &Stub{ChannelID: channelID}
}

func (s *Stub) CreateAnnouncement(_ context.Context, st stream.Status) error {
	slog.Debug("announcement create (stub)", slog.String("key", st.Key()), slog.String("title", st.StreamTitle), slog.String("component", "announce"))
	return nil
}

func (s *Stub) UpdateScreenshot(_ context.Context, st stream.Status) error {
	slog.Debug("announcement screenshot update (stub)", slog.String("key", st.Key()), slog.String("component", "announce"))
	return nil
}

func (s *Stub) DeleteAnnouncement(_ context.Context, st stream.Status) error {
	slog.Debug("announcement delete (stub)", slog.String("key", st.Key()), slog.String("component", "announce"))
	return nil
}
