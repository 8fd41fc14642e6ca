package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/the-alphabet-cartel/puck/stream"
)

// DefaultConfigFile is the optional JSON defaults file read beneath the
// environment.
const DefaultConfigFile = "config/puck_config.json"

// fileValue is a scalar from the defaults file. Ids and integers may be
// written quoted or bare.
type fileValue = stream.ID

// fileConfig mirrors the defaults file. Sections and keys that are absent
// leave the built-in defaults in place.
type fileConfig struct {
	Bot struct {
		Token fileValue `json:"token"`
	} `json:"bot"`
	Fluxer struct {
		APIBase               fileValue `json:"api_base"`
		GuildID               fileValue `json:"guild_id"`
		LiveRoleID            fileValue `json:"live_role_id"`
		AnnouncementChannelID fileValue `json:"announcement_channel_id"`
	} `json:"fluxer"`
	Twitch struct {
		ClientID     fileValue `json:"client_id"`
		ClientSecret fileValue `json:"client_secret"`
	} `json:"twitch"`
	YouTube struct {
		APIKey         fileValue `json:"api_key"`
		PollMultiplier fileValue `json:"poll_multiplier"`
		DailyQuota     fileValue `json:"daily_quota"`
	} `json:"youtube"`
	Polling struct {
		IntervalSeconds    fileValue `json:"interval_seconds"`
		TrackedStreamsFile fileValue `json:"tracked_streams_file"`
	} `json:"polling"`
	Logging struct {
		Level   fileValue `json:"level"`
		Format  fileValue `json:"format"`
		File    fileValue `json:"file"`
		Console *bool     `json:"console"`
	} `json:"logging"`
}

// readConfigFile loads the defaults file. A missing file yields an empty
// layer silently; an unreadable or malformed one is logged and ignored.
func readConfigFile(path string) fileConfig {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("could not read config file; using built-in defaults", slog.String("path", path), slog.Any("err", err), slog.String("component", "config"))
		}
		return fc
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		slog.Warn("config file is not valid JSON; using built-in defaults", slog.String("path", path), slog.Any("err", err), slog.String("component", "config"))
		return fileConfig{}
	}
	slog.Debug("loaded config file", slog.String("path", path), slog.String("component", "config"))
	return fc
}

// valueOr returns the file value, or def when it is blank.
func valueOr(v fileValue, def string) string {
	if s := strings.TrimSpace(string(v)); s != "" {
		return s
	}
	return def
}

// intOr parses a file integer >= 1, falling back to def with a warning.
func intOr(name string, v fileValue, def int) int {
	raw := strings.TrimSpace(string(v))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		slog.Warn("invalid integer in config file, using default", slog.String("key", name), slog.String("value", raw), slog.Int("default", def), slog.String("component", "config"))
		return def
	}
	return n
}
