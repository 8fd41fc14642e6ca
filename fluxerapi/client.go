// Package fluxerapi is a small REST client for the Fluxer chat platform,
// covering the guild and member calls needed to toggle a role.
package fluxerapi

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
)

const DefaultBaseURL = "https://api.fluxer.app/v1"

var (
	// ErrForbidden is returned when the bot lacks permission, usually because
	// the role sits above the bot's own highest role.
	ErrForbidden = errors.New("fluxer: forbidden")
	ErrNotFound  = errors.New("fluxer: not found")
)

// Client talks to the Fluxer REST API with a bot token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Member struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	if err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID), "", &g); err != nil {
		return nil, fmt.Errorf("get guild %s: %w", guildID, err)
	}
	return &g, nil
}

func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var m Member
	path := "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, "", &m); err != nil {
		return nil, fmt.Errorf("get member %s: %w", userID, err)
	}
	return &m, nil
}

// AddMemberRole grants roleID; reason is recorded in the audit log.
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := c.do(ctx, http.MethodPut, rolePath(guildID, userID, roleID), reason, nil); err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// RemoveMemberRole revokes roleID; reason is recorded in the audit log.
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	if err := c.do(ctx, http.MethodDelete, rolePath(guildID, userID, roleID), reason, nil); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

func rolePath(guildID, userID, roleID string) string {
	return "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(userID) + "/roles/" + url.PathEscape(roleID)
}

func (c *Client) do(ctx context.Context, method, path, reason string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	req.Header.Set("Accept", "application/json")
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fluxer %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
