package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// historyTTL bounds how long a player's conversation is kept.
const historyTTL = 7 * 24 * time.Hour

// sqliteStore keeps every session's roles, game state, death log, chat
// history and credentials in one SQLite database.
type sqliteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func newSQLiteStore(db *sqlx.DB) *sqliteStore {
	return &sqliteStore{db: db, now: time.Now}
}

type playerRow struct {
	SessionKey string `db:"session_key"`
	Position   int    `db:"position"`
	PlayerState
}

type deathRow struct {
	SessionKey string `db:"session_key"`
	Seq        int    `db:"seq"`
	DeathRecord
}

// LoadRoles returns the recorded assignment, or nil when there is none.
func (s *sqliteStore) LoadRoles(ctx context.Context, key string) ([]Assignment, error) {
	var roles []Assignment
	err := s.db.SelectContext(ctx, &roles,
		"SELECT role_id, ai_model FROM game_role WHERE session_key = ? ORDER BY position", key)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return roles, nil
}

// SaveRoles replaces the session's role assignment.
func (s *sqliteStore) SaveRoles(ctx context.Context, key string, roles []Assignment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save roles: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM game_role WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("save roles: clear: %w", err)
	}
	for i, r := range roles {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO game_role (session_key, position, role_id, ai_model) VALUES (?, ?, ?, ?)",
			key, i, r.RoleID, r.AIModel)
		if err != nil {
			return fmt.Errorf("save roles: insert %s: %w", r.RoleID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save roles: commit: %w", err)
	}
	return nil
}

// LoadState returns the session's game, or nil when there is none.
func (s *sqliteStore) LoadState(ctx context.Context, key string) (*GameState, error) {
	// One read transaction so the game row, players and deaths share a version
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load state: begin: %w", err)
	}
	defer tx.Rollback()

	var state GameState
	err = tx.GetContext(ctx, &state,
		"SELECT day, is_over, winner_camp, version FROM game WHERE session_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	err = tx.SelectContext(ctx, &state.Players, `
		SELECT role_id, ai_model, is_alive, kill_target, inspect_target, vote_target,
			saved, poisoned, witch_save_used, witch_poison_used
		FROM game_player WHERE session_key = ? ORDER BY position`, key)
	if err != nil {
		return nil, fmt.Errorf("load state: players: %w", err)
	}

	err = tx.SelectContext(ctx, &state.Deaths,
		"SELECT day, phase, player_id, cause FROM game_death WHERE session_key = ? ORDER BY seq", key)
	if err != nil {
		return nil, fmt.Errorf("load state: deaths: %w", err)
	}
	return &state, nil
}

// CreateState replaces whatever game the session had with state.
func (s *sqliteStore) CreateState(ctx context.Context, key string, state *GameState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create state: begin: %w", err)
	}
	defer tx.Rollback()

	// Versions keep climbing across games so a state loaded from the previous
	// game can never match the new one
	var prev int64
	err = tx.GetContext(ctx, &prev, "SELECT version FROM game WHERE session_key = ?", key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("create state: read version: %w", err)
	}

	for _, table := range []string{"game_death", "game_player", "game"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_key = ?", key); err != nil {
			return fmt.Errorf("create state: clear %s: %w", table, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO game (session_key, day, is_over, winner_camp, version) VALUES (?, ?, ?, ?, ?)",
		key, state.Day, state.IsOver, state.WinnerCamp, prev+1)
	if err != nil {
		return fmt.Errorf("create state: insert game: %w", err)
	}
	if err := insertPlayers(ctx, tx, key, state.Players); err != nil {
		return fmt.Errorf("create state: %w", err)
	}
	if err := insertDeaths(ctx, tx, key, state.Deaths, 0); err != nil {
		return fmt.Errorf("create state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create state: commit: %w", err)
	}
	state.Version = prev + 1
	return nil
}

// SaveState writes state back if nobody saved the session since it was
// loaded; otherwise it fails with ErrStaleState and writes nothing.
func (s *sqliteStore) SaveState(ctx context.Context, key string, state *GameState) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save state: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE game SET day = ?, is_over = ?, winner_camp = ?, version = version + 1
		WHERE session_key = ? AND version = ?`,
		state.Day, state.IsOver, state.WinnerCamp, key, state.Version)
	if err != nil {
		return fmt.Errorf("save state: update game: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("save state: rows affected: %w", err)
	} else if n == 0 {
		return ErrStaleState
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM game_player WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("save state: clear players: %w", err)
	}
	if err := insertPlayers(ctx, tx, key, state.Players); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	// The death log is append-only: only records past the stored count are new
	var stored int
	if err := tx.GetContext(ctx, &stored, "SELECT COUNT(*) FROM game_death WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("save state: count deaths: %w", err)
	}
	if stored < len(state.Deaths) {
		if err := insertDeaths(ctx, tx, key, state.Deaths[stored:], stored); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save state: commit: %w", err)
	}
	state.Version++
	return nil
}

func insertPlayers(ctx context.Context, tx *sqlx.Tx, key string, players []PlayerState) error {
	for i, p := range players {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO game_player (session_key, position, role_id, ai_model, is_alive,
				kill_target, inspect_target, vote_target, saved, poisoned,
				witch_save_used, witch_poison_used)
			VALUES (:session_key, :position, :role_id, :ai_model, :is_alive,
				:kill_target, :inspect_target, :vote_target, :saved, :poisoned,
				:witch_save_used, :witch_poison_used)`,
			playerRow{SessionKey: key, Position: i, PlayerState: p})
		if err != nil {
			return fmt.Errorf("insert player %s: %w", p.RoleID, err)
		}
	}
	return nil
}

func insertDeaths(ctx context.Context, tx *sqlx.Tx, key string, deaths []DeathRecord, firstSeq int) error {
	for i, d := range deaths {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO game_death (session_key, seq, day, phase, player_id, cause)
			VALUES (:session_key, :seq, :day, :phase, :player_id, :cause)`,
			deathRow{SessionKey: key, Seq: firstSeq + i, DeathRecord: d})
		if err != nil {
			return fmt.Errorf("insert death of %s: %w", d.PlayerID, err)
		}
	}
	return nil
}

// ChatMessage is one stored turn of a player's conversation with its model.
type ChatMessage struct {
	Role    string `db:"role"` // "user" or "assistant"
	Content string `db:"content"`
}

// LoadHistory returns up to limit of the player's most recent messages that
// are younger than historyTTL, oldest first.
func (s *sqliteStore) LoadHistory(ctx context.Context, key, playerID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := s.now().Add(-historyTTL).Unix()
	var msgs []ChatMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT role, content FROM (
			SELECT rowid AS seq, role, content FROM chat_history
			WHERE session_key = ? AND player_id = ? AND created_at >= ?
			ORDER BY rowid DESC LIMIT ?
		) ORDER BY seq ASC`, key, playerID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// AppendHistory stores new turns and prunes expired ones for the player.
func (s *sqliteStore) AppendHistory(ctx context.Context, key, playerID string, msgs ...ChatMessage) error {
	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append history: begin: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO chat_history (session_key, player_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			key, playerID, m.Role, m.Content, now.Unix())
		if err != nil {
			return fmt.Errorf("append history: insert: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM chat_history WHERE session_key = ? AND player_id = ? AND created_at < ?",
		key, playerID, now.Add(-historyTTL).Unix())
	if err != nil {
		return fmt.Errorf("append history: prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append history: commit: %w", err)
	}
	return nil
}

// ClearHistory forgets every conversation of the session.
func (s *sqliteStore) ClearHistory(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_history WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// CreateSession stores credentials under a fresh token.
func (s *sqliteStore) CreateSession(ctx context.Context, token string, creds Credentials) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session (token, provider, api_url, api_key, created_at) VALUES (?, ?, ?, ?, ?)",
		token, creds.Provider, creds.URL, creds.APIKey, s.now().Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// LookupSession returns the credentials stored under token. A missing
// session yields sql.ErrNoRows.
func (s *sqliteStore) LookupSession(ctx context.Context, token string) (Credentials, error) {
	var creds Credentials
	err := s.db.GetContext(ctx, &creds,
		"SELECT provider, api_url, api_key FROM session WHERE token = ?", token)
	if err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// DeleteSession removes the token and everything stored for its game.
func (s *sqliteStore) DeleteSession(ctx context.Context, token string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: begin: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM game_death WHERE session_key = ?",
		"DELETE FROM game_player WHERE session_key = ?",
		"DELETE FROM game WHERE session_key = ?",
		"DELETE FROM game_role WHERE session_key = ?",
		"DELETE FROM chat_history WHERE session_key = ?",
		"DELETE FROM session WHERE token = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, token); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete session: commit: %w", err)
	}
	return nil
}
