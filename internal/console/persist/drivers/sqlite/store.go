package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rbacadmin/internal/console/persist"
	_ "modernc.org/sqlite"
)

// Store keeps the session record in a SQLite file.
type Store struct {
	db  *sql.DB
	key string
}

var _ persist.Store = (*Store)(nil)

// NewStore opens dsn and applies migrations. key defaults to
// persist.DefaultKey.
func NewStore(dsn, key string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; the console is the only client.
	db.SetMaxOpenConns(1)

	if key == "" {
		key = persist.DefaultKey
	}
	s := &Store{db: db, key: key}

	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Load(ctx context.Context) (persist.Record, error) {
	var (
		r             persist.Record
		authenticated int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT authenticated, session_id, subject, username, refresh_token, updated_at
		FROM session_records WHERE key = ?`, s.key).
		Scan(&authenticated, &r.SessionID, &r.Subject, &r.Username, &r.RefreshToken, &r.UpdatedAt)
	if err != nil {
		return persist.Record{}, mapNotFound(err)
	}

	r.Authenticated = authenticated != 0
	return r, nil
}

func (s *Store) Save(ctx context.Context, r persist.Record) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (key, authenticated, session_id, subject, username, refresh_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			authenticated = excluded.authenticated,
			session_id    = excluded.session_id,
			subject       = excluded.subject,
			username      = excluded.username,
			refresh_token = excluded.refresh_token,
			updated_at    = excluded.updated_at`,
		s.key, boolToInt(r.Authenticated), r.SessionID, r.Subject, r.Username, r.RefreshToken, r.UpdatedAt.UTC())
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_records WHERE key = ?`, s.key)
	return err
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persist.ErrNotFound
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
