package announce

import (
	"context"
	"testing"

	"github.com/the-alphabet-cartel/puck/stream"
)

func TestStubIsNoop(t *testing.T) {
	var a Announcer = NewStub("chan-1")
	s := stream.New(stream.PlatformTwitch, "alice").WithLive(true)
	ctx := context.Background()
	for name, fn := range map[string]func(context.Context, stream.Status) error{
		"create": a.CreateAnnouncement,
		"update": a.UpdateScreenshot,
		"delete": a.DeleteAnnouncement,
	} {
		if err := fn(ctx, s); err != nil {
			t.Errorf("%s returned %v", name, err)
		}
	}
}
