package server

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hpungsan/stint/internal/db"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
)

// SQLiteMigrations is the server schema on SQLite.
var SQLiteMigrations = []db.Migration{
	{
		Name: "sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS sessions (
		  remote_id  TEXT PRIMARY KEY,
		  user_id    TEXT NOT NULL,
		  client_id  TEXT NOT NULL,
		  started_at INTEGER NOT NULL,
		  version    INTEGER NOT NULL,
		  data       TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL,
		  UNIQUE (user_id, client_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_started
		ON sessions(user_id, started_at DESC);
		`,
	},
	{
		Name: "notes_tasks",
		SQL: `
		CREATE TABLE IF NOT EXISTS notes (
		  remote_id  TEXT PRIMARY KEY,
		  user_id    TEXT NOT NULL,
		  client_id  TEXT NOT NULL,
		  data       TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  UNIQUE (user_id, client_id)
		);

		CREATE TABLE IF NOT EXISTS tasks (
		  remote_id  TEXT PRIMARY KEY,
		  user_id    TEXT NOT NULL,
		  client_id  TEXT NOT NULL,
		  data       TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  UNIQUE (user_id, client_id)
		);
		`,
	},
}

// SQLiteRepo is the default single-node repository.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) dataDir/stintd.db.
func OpenSQLite(dataDir string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	conn, err := db.Open(filepath.Join(dataDir, "stintd.db"), SQLiteMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteRepo{db: conn}, nil
}

func (r *SQLiteRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) CreateSession(ctx context.Context, userID string, s *session.Session) (*session.Session, bool, error) {
	row, err := toSessionRow(uuid.NewString(), s)
	if err != nil {
		return nil, false, err
	}
	now := nowUnix()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (remote_id, user_id, client_id, started_at, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.RemoteID, userID, row.ClientID, row.StartedAt, row.Version, row.Data, now, now)
	if db.IsUniqueConstraintError(err) {
		// replay of a create that already landed
		out, err := r.sessionByClientID(ctx, userID, s.ID)
		return out, false, err
	}
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}

	out, err := decodeSession(row.Data)
	return out, true, err
}

func (r *SQLiteRepo) sessionByClientID(ctx context.Context, userID, clientID string) (*session.Session, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE user_id = ? AND client_id = ?`, userID, clientID).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("session", clientID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return decodeSession(data)
}

func (r *SQLiteRepo) UpdateSession(ctx context.Context, userID, remoteID string, s *session.Session) (*session.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	var clientID, data string
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT client_id, version, data FROM sessions WHERE user_id = ? AND remote_id = ?`, userID, remoteID).
		Scan(&clientID, &version, &data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("session", remoteID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if clientID != s.ID {
		return nil, errors.NewInvalidRequest("session id does not match the stored record")
	}
	if s.Version < version {
		return decodeSession(data)
	}

	row, err := toSessionRow(remoteID, s)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET started_at = ?, version = ?, data = ?, updated_at = ?
		WHERE user_id = ? AND remote_id = ?
	`, row.StartedAt, row.Version, row.Data, nowUnix(), userID, remoteID); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return decodeSession(row.Data)
}

func (r *SQLiteRepo) ListSessions(ctx context.Context, userID string, f session.Filter) ([]*session.Session, error) {
	from, to, limit := listBounds(f)
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM sessions
		WHERE user_id = ? AND started_at >= ? AND started_at <= ?
		ORDER BY started_at DESC, client_id DESC
		LIMIT ?
	`, userID, from, to, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.NewInternal(err)
		}
		s, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

func (r *SQLiteRepo) CreateNote(ctx context.Context, userID string, n guest.Note) (guest.Note, bool, error) {
	return createItem(ctx, r.db, "notes", userID, n.ID, n)
}

func (r *SQLiteRepo) ListNotes(ctx context.Context, userID string) ([]guest.Note, error) {
	return listItems[guest.Note](ctx, r.db, "notes", userID)
}

func (r *SQLiteRepo) CreateTask(ctx context.Context, userID string, t guest.Task) (guest.Task, bool, error) {
	return createItem(ctx, r.db, "tasks", userID, t.ID, t)
}

func (r *SQLiteRepo) ListTasks(ctx context.Context, userID string) ([]guest.Task, error) {
	return listItems[guest.Task](ctx, r.db, "tasks", userID)
}

// createItem inserts v into table ("notes" or "tasks") unless the client id
// already exists for the user, in which case the stored item is returned.
func createItem[T any](ctx context.Context, conn *sql.DB, table, userID, clientID string, v T) (T, bool, error) {
	var zero T
	data, err := encodeItem(v)
	if err != nil {
		return zero, false, err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO `+table+` (remote_id, user_id, client_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), userID, clientID, data, nowUnix())
	if err == nil {
		return v, true, nil
	}
	if !db.IsUniqueConstraintError(err) {
		return zero, false, errors.NewInternal(err)
	}

	var stored string
	if err := conn.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE user_id = ? AND client_id = ?`, userID, clientID).Scan(&stored); err != nil {
		return zero, false, errors.NewInternal(err)
	}
	out, err := decodeItem[T](stored)
	return out, false, err
}

func listItems[T any](ctx context.Context, conn *sql.DB, table, userID string) ([]T, error) {
	rows, err := conn.QueryContext(ctx, `SELECT data FROM `+table+` WHERE user_id = ? ORDER BY created_at, client_id`, userID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.NewInternal(err)
		}
		v, err := decodeItem[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
