package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/the-alphabet-cartel/puck/fluxerapi"
	"github.com/the-alphabet-cartel/puck/stream"
	"github.com/the-alphabet-cartel/puck/telemetry"
)

// RoleClient is the slice of the Fluxer API used to toggle the live role.
type RoleClient interface {
	GetGuild(ctx context.Context, guildID string) (*fluxerapi.Guild, error)
	GetMember(ctx context.Context, guildID, userID string) (*fluxerapi.Member, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

const (
	roleOpAdd    = "add"
	roleOpRemove = "remove"
)

func (m *Monitor) rolesConfigured() bool {
	return m.opts.Roles != nil && m.opts.GuildID != "" && m.opts.LiveRoleID != ""
}

func (m *Monitor) addLiveRole(ctx context.Context, s stream.Status) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "roles"))
	if !m.rolesConfigured() {
		log.Warn("guild or live role not configured; skipping live role add", slog.String("member", s.FluxerUserID))
		return
	}
	reason := fmt.Sprintf("Puck: %s went live on %s", displayName(s), s.Platform)
	if err := m.setRole(ctx, s.FluxerUserID, true, reason); err != nil {
		m.logRoleError(log, roleOpAdd, s, err)
	}
}

func (m *Monitor) removeLiveRole(ctx context.Context, s stream.Status) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "roles"))
	if !m.rolesConfigured() {
		log.Warn("guild or live role not configured; skipping live role removal", slog.String("member", s.FluxerUserID))
		return
	}
	reason := fmt.Sprintf("Puck: %s went offline on %s", displayName(s), s.Platform)
	if err := m.setRole(ctx, s.FluxerUserID, false, reason); err != nil {
		m.logRoleError(log, roleOpRemove, s, err)
	}
}

// setRole brings the member's live role to want, skipping the write when it
// already matches.
func (m *Monitor) setRole(ctx context.Context, userID string, want bool, reason string) error {
	if _, err := m.opts.Roles.GetGuild(ctx, m.opts.GuildID); err != nil {
		return err
	}
	member, err := m.opts.Roles.GetMember(ctx, m.opts.GuildID, userID)
	if err != nil {
		return err
	}
	if member.HasRole(m.opts.LiveRoleID) == want {
		slog.Debug("live role already in desired state",
			slog.String("member", userID),
			slog.Bool("has_role", want),
			slog.String("component", "roles"))
		return nil
	}
	if want {
		err = m.opts.Roles.AddMemberRole(ctx, m.opts.GuildID, userID, m.opts.LiveRoleID, reason)
	} else {
		err = m.opts.Roles.RemoveMemberRole(ctx, m.opts.GuildID, userID, m.opts.LiveRoleID, reason)
	}
	if err != nil {
		return err
	}
	slog.Info("live role updated",
		slog.String("member", userID),
		slog.Bool("has_role", want),
		slog.String("component", "roles"))
	return nil
}

func (m *Monitor) logRoleError(log *slog.Logger, op string, s stream.Status, err error) {
	telemetry.RecordRoleFailure(op)
	switch {
	case errors.Is(err, fluxerapi.ErrForbidden):
		log.Error("missing permission to change live role; the bot's role must sit above it in the role hierarchy",
			slog.String("op", op),
			slog.String("member", s.FluxerUserID),
			slog.String("role", m.opts.LiveRoleID))
	case errors.Is(err, fluxerapi.ErrNotFound):
		log.Error("guild or member not found; live role unchanged",
			slog.String("op", op),
			slog.String("member", s.FluxerUserID),
			slog.Any("err", err))
	default:
		log.Error("live role change failed",
			slog.String("op", op),
			slog.String("member", s.FluxerUserID),
			slog.Any("err", err))
	}
}

func displayName(s stream.Status) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.PlatformUsername
}
