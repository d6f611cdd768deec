package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type GuildSettings struct {
	GuildID      string
	MuteRoleID   string
	LogChannelID string
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mute_role_id, log_channel_id
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := GuildSettings{GuildID: guildID}
	err := row.Scan(&result.MuteRoleID, &result.LogChannelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, mute_role_id, log_channel_id)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			mute_role_id = excluded.mute_role_id,
			log_channel_id = excluded.log_channel_id
	`, settings.GuildID, settings.MuteRoleID, settings.LogChannelID)
	return err
}

// MuteRole satisfies the escalator's role lookup; empty when unset.
func (s *Store) MuteRole(ctx context.Context, guildID string) (string, error) {
	settings, err := s.GetGuildSettings(ctx, guildID)
	if err != nil {
		return "", err
	}
	return settings.MuteRoleID, nil
}

func (s *Store) GetSpamOverride(ctx context.Context, channelID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT option FROM spam_overrides WHERE channel_id = ?`, channelID)
	var option string
	if err := row.Scan(&option); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return option, true, nil
}

func (s *Store) UpsertSpamOverride(ctx context.Context, channelID, guildID, option string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spam_overrides (channel_id, guild_id, option)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			guild_id = excluded.guild_id,
			option = excluded.option
	`, channelID, guildID, option)
	return err
}

func (s *Store) DeleteSpamOverride(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spam_overrides WHERE channel_id = ?`, channelID)
	return err
}

func (s *Store) ListSpamOverrides(ctx context.Context, guildID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, option FROM spam_overrides WHERE guild_id = ? ORDER BY channel_id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var channelID, option string
		if err := rows.Scan(&channelID, &option); err != nil {
			return nil, err
		}
		result[channelID] = option
	}
	return result, rows.Err()
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	return err
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
