package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const CategoryMute = "mute"

type Infraction struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Category    string
	Reason      string
	CreatedAt   time.Time
	EndsAt      time.Time
	Active      bool
}

// CountMuteInfractions counts mute infractions recorded strictly after since,
// superseded ones included.
func (s *Store) CountMuteInfractions(ctx context.Context, guildID, userID string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM infractions
		WHERE guild_id = ? AND user_id = ? AND category = ? AND created_at > ?
	`, guildID, userID, CategoryMute, since.Unix())

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ActiveMute returns the id of the user's active mute, if any.
func (s *Store) ActiveMute(ctx context.Context, guildID, userID string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM infractions
		WHERE guild_id = ? AND user_id = ? AND category = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1
	`, guildID, userID, CategoryMute)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) DeactivateInfraction(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE infractions SET active = 0 WHERE id = ?`, id)
	return err
}

func (s *Store) AddMuteInfraction(ctx context.Context, guildID, userID, moderatorID, reason string, createdAt, endsAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO infractions (guild_id, user_id, moderator_id, category, reason, created_at, ends_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, guildID, userID, moderatorID, CategoryMute, reason, createdAt.Unix(), endsAt.Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetInfraction(ctx context.Context, id int64) (Infraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, user_id, moderator_id, category, reason, created_at, ends_at, active
		FROM infractions WHERE id = ?
	`, id)

	var inf Infraction
	var created, ends int64
	var active int
	err := row.Scan(&inf.ID, &inf.GuildID, &inf.UserID, &inf.ModeratorID, &inf.Category, &inf.Reason, &created, &ends, &active)
	if err != nil {
		return Infraction{}, err
	}
	inf.CreatedAt = time.Unix(created, 0)
	inf.EndsAt = time.Unix(ends, 0)
	inf.Active = active == 1
	return inf, nil
}

// ListActiveMutes returns mutes still marked active, oldest first. Used at
// startup to re-arm un-mute timers that were lost on restart.
func (s *Store) ListActiveMutes(ctx context.Context) ([]Infraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, moderator_id, category, reason, created_at, ends_at, active
		FROM infractions
		WHERE category = ? AND active = 1
		ORDER BY created_at ASC
	`, CategoryMute)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutes []Infraction
	for rows.Next() {
		var inf Infraction
		var created, ends int64
		var active int
		if err := rows.Scan(&inf.ID, &inf.GuildID, &inf.UserID, &inf.ModeratorID, &inf.Category, &inf.Reason, &created, &ends, &active); err != nil {
			return nil, err
		}
		inf.CreatedAt = time.Unix(created, 0)
		inf.EndsAt = time.Unix(ends, 0)
		inf.Active = active == 1
		mutes = append(mutes, inf)
	}
	return mutes, rows.Err()
}
