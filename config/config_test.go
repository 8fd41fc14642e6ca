package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points every secret file at a missing path so host secrets never
// leak into a test.
func isolate(t *testing.T) {
	t.Helper()
	missing := filepath.Join(t.TempDir(), "missing")
	for _, s := range []secret{botTokenSecret, twitchIDSecret, twitchSecretSecret, youtubeKeySecret} {
		t.Setenv(s.fileEnv, missing)
		t.Setenv(s.env, "")
	}
	t.Setenv("PUCK_CONFIG_FILE", missing)
	for _, k := range []string{
		"PUCK_POLL_INTERVAL", "PUCK_YOUTUBE_POLL_MULTIPLIER", "PUCK_YOUTUBE_DAILY_QUOTA", "PUCK_STATE_BACKEND",
		"PUCK_TRACKED_STREAMS_FILE", "FLUXER_API_BASE", "HTTP_ADDR",
		"GUILD_ID", "PUCK_LIVE_ROLE_ID", "PUCK_ANNOUNCE_CHANNEL_ID",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LOG_CONSOLE",
	} {
		t.Setenv(k, "")
	}
}

// writeConfigFile writes body as the defaults file and points Load at it.
func writeConfigFile(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "puck_config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PUCK_CONFIG_FILE", path)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Errorf("PollInterval = %v, want 90s", cfg.PollInterval)
	}
	if cfg.YouTubeMultiplier != 3 {
		t.Errorf("YouTubeMultiplier = %d, want 3", cfg.YouTubeMultiplier)
	}
	if cfg.YouTubeDailyQuota != 10000 {
		t.Errorf("YouTubeDailyQuota = %d, want 10000", cfg.YouTubeDailyQuota)
	}
	if cfg.StateBackend != BackendFile {
		t.Errorf("StateBackend = %q, want file", cfg.StateBackend)
	}
	if cfg.FluxerAPIBase != DefaultFluxerAPIBase || cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected defaults: api=%q addr=%q", cfg.FluxerAPIBase, cfg.HTTPAddr)
	}
	if err := cfg.ValidateBotReady(); err == nil {
		t.Error("expected error without bot token")
	}
	if cfg.TwitchEnabled() {
		t.Error("twitch should be disabled without credentials")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" || cfg.LogFile != "" || !cfg.LogConsole {
		t.Errorf("unexpected log defaults: level=%q format=%q file=%q console=%v", cfg.LogLevel, cfg.LogFormat, cfg.LogFile, cfg.LogConsole)
	}
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	writeConfigFile(t, `{
		"bot": {"token": "file-token"},
		"fluxer": {"guild_id": 1234567890123456789, "live_role_id": "55", "announcement_channel_id": 77},
		"polling": {"interval_seconds": 45},
		"youtube": {"poll_multiplier": "4"},
		"logging": {"level": "DEBUG", "format": "json", "file": "logs/puck.log", "console": false}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotToken != "file-token" {
		t.Errorf("BotToken = %q, want file-token", cfg.BotToken)
	}
	if cfg.GuildID != "1234567890123456789" || cfg.LiveRoleID != "55" || cfg.AnnounceChannelID != "77" {
		t.Errorf("ids = %q/%q/%q", cfg.GuildID, cfg.LiveRoleID, cfg.AnnounceChannelID)
	}
	if !cfg.RolesEnabled() {
		t.Error("roles should be enabled from file ids")
	}
	if cfg.PollInterval != 45*time.Second || cfg.YouTubeMultiplier != 4 {
		t.Errorf("interval=%v multiplier=%d, want 45s/4", cfg.PollInterval, cfg.YouTubeMultiplier)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.LogFile != "logs/puck.log" || cfg.LogConsole {
		t.Errorf("logging = %q/%q/%q/%v", cfg.LogLevel, cfg.LogFormat, cfg.LogFile, cfg.LogConsole)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	isolate(t)
	writeConfigFile(t, `{
		"bot": {"token": "file-token"},
		"fluxer": {"guild_id": "1", "live_role_id": "2"},
		"polling": {"interval_seconds": 45},
		"logging": {"level": "debug", "console": false}
	}`)
	t.Setenv("FLUXER_TOKEN", "env-token")
	t.Setenv("GUILD_ID", "10")
	t.Setenv("PUCK_POLL_INTERVAL", "20")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_CONSOLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotToken != "env-token" {
		t.Errorf("BotToken = %q, want env-token", cfg.BotToken)
	}
	if cfg.GuildID != "10" || cfg.LiveRoleID != "2" {
		t.Errorf("guild=%q role=%q, want 10/2", cfg.GuildID, cfg.LiveRoleID)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Errorf("PollInterval = %v, want 20s", cfg.PollInterval)
	}
	if cfg.LogLevel != "warn" || !cfg.LogConsole {
		t.Errorf("logging = %q console=%v, want warn/true", cfg.LogLevel, cfg.LogConsole)
	}
}

func TestConfigFileFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"polling": {"interval_seconds": 45`},
		{"invalid integers", `{"polling": {"interval_seconds": "soon"}, "youtube": {"poll_multiplier": 0}}`},
		{"wrong section shape", `{"fluxer": {"guild_id": {"nested": true}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			writeConfigFile(t, tt.body)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.PollInterval != DefaultPollInterval || cfg.YouTubeMultiplier != DefaultYouTubeMultiplier {
				t.Errorf("got interval=%v multiplier=%d, want defaults", cfg.PollInterval, cfg.YouTubeMultiplier)
			}
			if cfg.GuildID != "" {
				t.Errorf("GuildID = %q, want empty", cfg.GuildID)
			}
		})
	}
}

func TestLoadIntegerFallbacks(t *testing.T) {
	tests := []struct {
		name         string
		interval     string
		multiplier   string
		wantInterval time.Duration
		wantMult     int
	}{
		{"valid", "30", "5", 30 * time.Second, 5},
		{"not a number", "soon", "x", 90 * time.Second, 3},
		{"zero clamps to default", "0", "0", 90 * time.Second, 3},
		{"negative clamps to default", "-5", "-1", 90 * time.Second, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv("PUCK_POLL_INTERVAL", tt.interval)
			t.Setenv("PUCK_YOUTUBE_POLL_MULTIPLIER", tt.multiplier)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.PollInterval != tt.wantInterval || cfg.YouTubeMultiplier != tt.wantMult {
				t.Errorf("got interval=%v multiplier=%d, want %v/%d", cfg.PollInterval, cfg.YouTubeMultiplier, tt.wantInterval, tt.wantMult)
			}
		})
	}
}

func TestLoadInvalidBackend(t *testing.T) {
	isolate(t)
	t.Setenv("PUCK_STATE_BACKEND", "redis")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown state backend")
	}
}

func TestSecretFileOverridesEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "puck_token")
	if err := os.WriteFile(tokenPath, []byte("file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOKEN_FILE", tokenPath)
	t.Setenv("FLUXER_TOKEN", "env-token")
	t.Setenv("TWITCH_CLIENT_ID", "env-id")
	t.Setenv("TWITCH_CLIENT_SECRET", "env-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotToken != "file-token" {
		t.Errorf("BotToken = %q, want file-token", cfg.BotToken)
	}
	if cfg.TwitchClientID != "env-id" || !cfg.TwitchEnabled() {
		t.Errorf("env fallback not used: id=%q", cfg.TwitchClientID)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("ValidateBotReady() = %v", err)
	}
}

func TestTrackedStreamKeys(t *testing.T) {
	tests := []struct {
		name string
		in   TrackedStream
		want []string
	}{
		{"both", TrackedStream{TwitchUsername: "Alice", YouTubeChannelID: "UC1"}, []string{"twitch:alice", "youtube:UC1"}},
		{"twitch only", TrackedStream{TwitchUsername: " bob "}, []string{"twitch:bob"}},
		{"youtube only", TrackedStream{YouTubeChannelID: "UC2"}, []string{"youtube:UC2"}},
		{"neither", TrackedStream{FluxerUserID: "1"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Keys()
			if len(got) != len(tt.want) {
				t.Fatalf("Keys() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Keys()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTrackedFileReloadAndFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracked_streams.json")
	f := NewTrackedFile(path)

	if got := f.Load(); len(got) != 0 {
		t.Fatalf("missing file should yield no streams, got %v", got)
	}

	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write(`{"streams": [{"twitch_username": "alice", "fluxer_user_id": "100"}]}`)
	got := f.Load()
	if len(got) != 1 || got[0].FluxerUserID != "100" {
		t.Fatalf("Load() = %+v", got)
	}

	write(`[{"youtube_channel_id": "UC1", "fluxer_user_id": "200"}, {"twitch_username": "bob"}]`)
	if got := f.Load(); len(got) != 2 || got[0].YouTubeChannelID != "UC1" {
		t.Fatalf("bare list not picked up: %+v", got)
	}

	write(`{"streams": [{"twitch_username": "alice", "fluxer_user_id": 100}, {"twitch_username": "bob", "fluxer_user_id": "200"}]}`)
	got = f.Load()
	if len(got) != 2 || got[0].FluxerUserID != "100" || got[1].FluxerUserID != "200" {
		t.Fatalf("numeric member ids not accepted: %+v", got)
	}

	write(`{"streams": [`)
	if got := f.Load(); len(got) != 2 {
		t.Fatalf("parse error should keep last good mapping, got %+v", got)
	}
}

func TestParseTrackedFileMemberIDs(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"string", `[{"twitch_username": "a", "fluxer_user_id": "42"}]`, "42", false},
		{"number", `[{"twitch_username": "a", "fluxer_user_id": 42}]`, "42", false},
		{"snowflake", `[{"twitch_username": "a", "fluxer_user_id": 1234567890123456789}]`, "1234567890123456789", false},
		{"null", `[{"twitch_username": "a", "fluxer_user_id": null}]`, "", false},
		{"absent", `[{"twitch_username": "a"}]`, "", false},
		{"boolean", `[{"twitch_username": "a", "fluxer_user_id": true}]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tracked_streams.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatal(err)
			}
			got, err := ParseTrackedFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTrackedFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != 1 || got[0].FluxerUserID != tt.want || got[0].TwitchUsername != "a" {
				t.Errorf("ParseTrackedFile() = %+v, want member %q", got, tt.want)
			}
		})
	}
}
