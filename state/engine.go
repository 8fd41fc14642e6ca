// Package state reconciles each poll cycle's live results against the last
// known state and persists the result so transitions survive restarts.
package state

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/the-alphabet-cartel/puck/config"
	"github.com/the-alphabet-cartel/puck/stream"
	"github.com/the-alphabet-cartel/puck/telemetry"
)

// Store persists the keyed stream state.
type Store interface {
	Load(ctx context.Context) (map[string]stream.Status, error)
	Save(ctx context.Context, streams map[string]stream.Status) error
}

// Engine holds the previous cycle's state. Compare is the only writer.
type Engine struct {
	store Store
	now   func() time.Time

	mu       sync.RWMutex
	previous map[string]stream.Status
}

// New loads prior state from store. A missing or unreadable store starts
// from empty state.
func New(ctx context.Context, store Store) *Engine {
	e := &Engine{store: store, now: time.Now, previous: map[string]stream.Status{}}
	prev, err := store.Load(ctx)
	if err != nil {
		slog.Warn("could not load stream state; starting fresh", slog.Any("err", err), slog.String("component", "state"))
		return e
	}
	if prev != nil {
		e.previous = prev
	}
	live := 0
	for _, s := range e.previous {
		if s.IsLive {
			live++
		}
	}
	slog.Info("stream state loaded", slog.Int("streams", len(e.previous)), slog.Int("live", live), slog.String("component", "state"))
	return e
}

// Compare diffs the cycle's live statuses against the previous state. A key
// goes live when it is live now and was not before. A key goes offline when
// it was live, is absent now and is still tracked. The next snapshot is
// saved and adopted even if the save fails.
func (e *Engine) Compare(ctx context.Context, current []stream.Status, tracked []config.TrackedStream) (wentLive, wentOffline []stream.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := make(map[string]stream.Status, len(current))
	for _, s := range current {
		now[s.Key()] = s
	}
	universe := make(map[string]bool)
	for _, t := range tracked {
		for _, k := range t.Keys() {
			universe[k] = true
		}
	}

	for _, k := range slices.Sorted(maps.Keys(now)) {
		if prev, ok := e.previous[k]; !ok || !prev.IsLive {
			wentLive = append(wentLive, now[k])
		}
	}

	checked := e.now().UTC()
	next := maps.Clone(now)
	for _, k := range slices.Sorted(maps.Keys(universe)) {
		if _, live := now[k]; live {
			continue
		}
		prev, ok := e.previous[k]
		if !ok {
			continue
		}
		off := prev.WithLive(false)
		off.LastChecked = checked
		next[k] = off
		if prev.IsLive {
			wentOffline = append(wentOffline, off)
		}
	}

	if err := e.store.Save(ctx, next); err != nil {
		slog.Error("failed to persist stream state", slog.Int("streams", len(next)), slog.Any("err", err), slog.String("component", "state"))
		telemetry.RecordPersistFailure()
	}
	e.previous = next
	return wentLive, wentOffline
}

// Previous returns a copy of the last adopted state.
func (e *Engine) Previous() map[string]stream.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.previous)
}

// LiveOn returns the previously live statuses for platform, sorted by key.
func (e *Engine) LiveOn(platform string) []stream.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []stream.Status
	for _, k := range slices.Sorted(maps.Keys(e.previous)) {
		if s := e.previous[k]; s.IsLive && s.Platform == platform {
			out = append(out, s)
		}
	}
	return out
}
