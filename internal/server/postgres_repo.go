package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresMigrations are applied in order and tracked in schema_migrations.
var postgresMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS sessions (
		remote_id  TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		version    BIGINT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, client_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions(user_id, started_at DESC);
	`,
	`
	CREATE TABLE IF NOT EXISTS notes (
		remote_id  TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, client_id)
	);
	CREATE TABLE IF NOT EXISTS tasks (
		remote_id  TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, client_id)
	);
	`,
}

// PostgresRepo stores records in Postgres through a pgx pool.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresRepo, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepo{pool: pool}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for i, stmt := range postgresMigrations {
		version := i + 1

		var exists bool
		if err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check migration %d: %w", version, err)
		}
		if exists {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}
	return nil
}

func (r *PostgresRepo) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepo) CreateSession(ctx context.Context, userID string, s *session.Session) (*session.Session, bool, error) {
	row, err := toSessionRow(uuid.NewString(), s)
	if err != nil {
		return nil, false, err
	}

	var data string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO sessions (remote_id, user_id, client_id, started_at, version, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, client_id) DO NOTHING
		RETURNING data::text
	`, row.RemoteID, userID, row.ClientID, row.StartedAt, row.Version, row.Data).Scan(&data)
	if err == nil {
		out, err := decodeSession(data)
		return out, true, err
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.NewInternal(err)
	}

	// Conflict: replay of an existing key
	err = r.pool.QueryRow(ctx, `SELECT data::text FROM sessions WHERE user_id = $1 AND client_id = $2`, userID, s.ID).Scan(&data)
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	out, err := decodeSession(data)
	return out, false, err
}

func (r *PostgresRepo) UpdateSession(ctx context.Context, userID, remoteID string, s *session.Session) (*session.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback(ctx)

	var clientID, data string
	var version int64
	err = tx.QueryRow(ctx, `
		SELECT client_id, version, data::text FROM sessions
		WHERE user_id = $1 AND remote_id = $2
		FOR UPDATE
	`, userID, remoteID).Scan(&clientID, &version, &data)
	if stderrors.Is(err, pgx.ErrNoRows) {
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
	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET started_at = $1, version = $2, data = $3, updated_at = NOW()
		WHERE user_id = $4 AND remote_id = $5
	`, row.StartedAt, row.Version, row.Data, userID, remoteID); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.NewInternal(err)
	}
	return decodeSession(row.Data)
}

func (r *PostgresRepo) ListSessions(ctx context.Context, userID string, f session.Filter) ([]*session.Session, error) {
	from, to, limit := listBounds(f)
	rows, err := r.pool.Query(ctx, `
		SELECT data::text FROM sessions
		WHERE user_id = $1 AND started_at >= $2 AND started_at <= $3
		ORDER BY started_at DESC, client_id DESC
		LIMIT $4
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

func (r *PostgresRepo) CreateNote(ctx context.Context, userID string, n guest.Note) (guest.Note, bool, error) {
	return pgCreateItem(ctx, r.pool, "notes", userID, n.ID, n)
}

func (r *PostgresRepo) ListNotes(ctx context.Context, userID string) ([]guest.Note, error) {
	return pgListItems[guest.Note](ctx, r.pool, "notes", userID)
}

func (r *PostgresRepo) CreateTask(ctx context.Context, userID string, t guest.Task) (guest.Task, bool, error) {
	return pgCreateItem(ctx, r.pool, "tasks", userID, t.ID, t)
}

func (r *PostgresRepo) ListTasks(ctx context.Context, userID string) ([]guest.Task, error) {
	return pgListItems[guest.Task](ctx, r.pool, "tasks", userID)
}

func pgCreateItem[T any](ctx context.Context, pool *pgxpool.Pool, table, userID, clientID string, v T) (T, bool, error) {
	var zero T
	data, err := encodeItem(v)
	if err != nil {
		return zero, false, err
	}

	tag, err := pool.Exec(ctx, `
		INSERT INTO `+table+` (remote_id, user_id, client_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id) DO NOTHING
	`, uuid.NewString(), userID, clientID, data)
	if err != nil {
		return zero, false, errors.NewInternal(err)
	}
	if tag.RowsAffected() == 1 {
		return v, true, nil
	}

	var stored string
	if err := pool.QueryRow(ctx, `SELECT data::text FROM `+table+` WHERE user_id = $1 AND client_id = $2`, userID, clientID).Scan(&stored); err != nil {
		return zero, false, errors.NewInternal(err)
	}
	out, err := decodeItem[T](stored)
	return out, false, err
}

func pgListItems[T any](ctx context.Context, pool *pgxpool.Pool, table, userID string) ([]T, error) {
	rows, err := pool.Query(ctx, `SELECT data::text FROM `+table+` WHERE user_id = $1 ORDER BY created_at, client_id`, userID)
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
