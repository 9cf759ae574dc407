package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the settings tables. Apply it with
// [PostgresStore.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS server_settings (
    guild_id           TEXT PRIMARY KEY,
    channel_id         TEXT NOT NULL DEFAULT '',
    admin_id           TEXT NOT NULL DEFAULT '',
    allowed_users      JSONB NOT NULL DEFAULT '[]',
    listen_to_everyone BOOLEAN NOT NULL DEFAULT false,
    muted              BOOLEAN NOT NULL DEFAULT false,
    last_active        TIMESTAMPTZ NOT NULL DEFAULT now(),
    voice              JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS user_preferences (
    user_id      TEXT PRIMARY KEY,
    tier         TEXT NOT NULL DEFAULT 'free',
    tts_provider TEXT NOT NULL DEFAULT '',
    model        TEXT NOT NULL DEFAULT 'gpt35'
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on db. Call [PostgresStore.Migrate]
// before first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("settings: migrate: %w", err)
	}
	return nil
}

const serverColumns = `guild_id, channel_id, admin_id, allowed_users, listen_to_everyone, muted, last_active, voice`

// GetServer implements [Store].
func (s *PostgresStore) GetServer(ctx context.Context, guildID string) (*ServerSettings, error) {
	row := s.db.QueryRow(ctx, `SELECT `+serverColumns+` FROM server_settings WHERE guild_id = $1`, guildID)
	ss, err := scanServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get guild %s: %w", guildID, err)
	}
	return ss, nil
}

// PutServer implements [Store].
func (s *PostgresStore) PutServer(ctx context.Context, ss *ServerSettings) error {
	allowed, err := json.Marshal(ss.Clone().AllowedUsers)
	if err != nil {
		return fmt.Errorf("settings: marshal allowed_users: %w", err)
	}
	voice, err := json.Marshal(ss.Voice)
	if err != nil {
		return fmt.Errorf("settings: marshal voice: %w", err)
	}

	const query = `
		INSERT INTO server_settings (` + serverColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (guild_id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			admin_id = EXCLUDED.admin_id,
			allowed_users = EXCLUDED.allowed_users,
			listen_to_everyone = EXCLUDED.listen_to_everyone,
			muted = EXCLUDED.muted,
			last_active = EXCLUDED.last_active,
			voice = EXCLUDED.voice`

	if _, err := s.db.Exec(ctx, query,
		ss.GuildID, ss.ChannelID, ss.AdminID, allowed, ss.ListenToEveryone, ss.Muted, ss.LastActive, voice,
	); err != nil {
		return fmt.Errorf("settings: put guild %s: %w", ss.GuildID, err)
	}
	return nil
}

// DeleteServer implements [Store].
func (s *PostgresStore) DeleteServer(ctx context.Context, guildID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM server_settings WHERE guild_id = $1`, guildID); err != nil {
		return fmt.Errorf("settings: delete guild %s: %w", guildID, err)
	}
	return nil
}

// ListServers implements [Store].
func (s *PostgresStore) ListServers(ctx context.Context) ([]*ServerSettings, error) {
	rows, err := s.db.Query(ctx, `SELECT `+serverColumns+` FROM server_settings ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("settings: list guilds: %w", err)
	}
	defer rows.Close()

	var out []*ServerSettings
	for rows.Next() {
		ss, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("settings: list guilds: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: list guilds: %w", err)
	}
	return out, nil
}

// GetUser implements [Store].
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*UserPreferences, error) {
	var p UserPreferences
	err := s.db.QueryRow(ctx,
		`SELECT user_id, tier, tts_provider, model FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Tier, &p.TTSProvider, &p.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get user %s: %w", userID, err)
	}
	return &p, nil
}

// PutUser implements [Store].
func (s *PostgresStore) PutUser(ctx context.Context, p *UserPreferences) error {
	const query = `
		INSERT INTO user_preferences (user_id, tier, tts_provider, model)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			tts_provider = EXCLUDED.tts_provider,
			model = EXCLUDED.model`
	if _, err := s.db.Exec(ctx, query, p.UserID, p.Tier, p.TTSProvider, p.Model); err != nil {
		return fmt.Errorf("settings: put user %s: %w", p.UserID, err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("settings: ping: %w", err)
	}
	return nil
}

func scanServer(row pgx.Row) (*ServerSettings, error) {
	var ss ServerSettings
	var allowed, voice []byte
	if err := row.Scan(
		&ss.GuildID, &ss.ChannelID, &ss.AdminID, &allowed,
		&ss.ListenToEveryone, &ss.Muted, &ss.LastActive, &voice,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(allowed, &ss.AllowedUsers); err != nil {
		return nil, fmt.Errorf("unmarshal allowed_users: %w", err)
	}
	if err := json.Unmarshal(voice, &ss.Voice); err != nil {
		return nil, fmt.Errorf("unmarshal voice: %w", err)
	}
	ss.normalize()
	return &ss, nil
}
