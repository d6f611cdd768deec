// Package mute computes escalating mute durations from a user's recent
// mute history and records the resulting infraction.
package mute

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrNoMuteRole is returned when a guild has no mute role configured. Callers
// are expected to check applicability before asking for an escalation.
var ErrNoMuteRole = errors.New("mute: no mute role configured")

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// History is the infraction storage the escalator reads and writes. Counting
// includes superseded mutes so repeat offenses keep doubling.
type History interface {
	CountMuteInfractions(ctx context.Context, guildID, userID string, since time.Time) (int, error)
	ActiveMute(ctx context.Context, guildID, userID string) (id int64, found bool, err error)
	DeactivateInfraction(ctx context.Context, id int64) error
	AddMuteInfraction(ctx context.Context, guildID, userID, moderatorID, reason string, createdAt, endsAt time.Time) (int64, error)
}

// Roles resolves a guild's configured mute role; empty means unset.
type Roles interface {
	MuteRole(ctx context.Context, guildID string) (string, error)
}

type Result struct {
	MuteRoleID   string
	InfractionID int64
	Duration     time.Duration
}

type Escalator struct {
	history History
	roles   Roles
	logger  *zap.Logger
	clock   Clock
	window  time.Duration
}

func NewEscalator(history History, roles Roles, logger *zap.Logger) *Escalator {
	return &Escalator{
		history: history,
		roles:   roles,
		logger:  logger,
		clock:   realClock{},
		window:  24 * time.Hour,
	}
}

func (e *Escalator) WithClock(clock Clock) {
	e.clock = clock
}

// Escalate records a new mute whose duration doubles with every mute
// infraction accrued in the trailing window: 1 minute for a first offense,
// then 2, 4, 8 and so on, uncapped. Any currently active mute is superseded
// first so at most one mute is active per user.
func (e *Escalator) Escalate(ctx context.Context, guildID, userID, moderatorID, reason string) (Result, error) {
	role, err := e.roles.MuteRole(ctx, guildID)
	if err != nil {
		return Result{}, err
	}
	if role == "" {
		return Result{}, ErrNoMuteRole
	}

	now := e.clock.Now()
	count, err := e.history.CountMuteInfractions(ctx, guildID, userID, now.Add(-e.window))
	if err != nil {
		return Result{}, err
	}
	duration := time.Duration(1<<uint(count)) * time.Minute

	if id, found, err := e.history.ActiveMute(ctx, guildID, userID); err != nil {
		return Result{}, err
	} else if found {
		if err := e.history.DeactivateInfraction(ctx, id); err != nil {
			return Result{}, err
		}
	}

	id, err := e.history.AddMuteInfraction(ctx, guildID, userID, moderatorID, reason, now, now.Add(duration))
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("mute escalated",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Int("prior_count", count),
		zap.Duration("duration", duration),
	)
	return Result{MuteRoleID: role, InfractionID: id, Duration: duration}, nil
}
