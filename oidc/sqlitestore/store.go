// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package sqlitestore provides an oidc.SessionStore persisted in SQLite, so
// pending logins and authenticated sessions survive a restart of the relying
// party.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/oidc-rp/oidc"
	_ "modernc.org/sqlite"
)

// DefaultTableName is the table sessions are stored in.
const DefaultTableName = "oidc_session"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is an oidc.SessionStore backed by a SQLite database. Sessions are
// stored with their raw tokens, so the database must be protected like any
// other credential store.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

var _ oidc.SessionStore = (*Store)(nil)

// Open opens the SQLite database at dsn and creates the session table when
// it doesn't exist. Use ":memory:" for a private in-memory database.
//
// Supported options: WithTableName, WithNow
func Open(ctx context.Context, dsn string, opt ...oidc.Option) (*Store, error) {
	const op = "sqlitestore.Open"
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is empty: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	if !tableNameRe.MatchString(opts.withTableName) {
		return nil, fmt.Errorf("%s: invalid table name %q: %w", op, opts.withTableName, oidc.ErrInvalidParameter)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open database: %w", op, err)
	}
	// every connection to ":memory:" is a different database
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: opts.withTableName, now: opts.withNowFunc}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          TEXT PRIMARY KEY,
				data        TEXT NOT NULL,
				updated_at  INTEGER NOT NULL
			);`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at ON %s (updated_at);`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("unable to init %q table schema: %w", s.table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the session, or oidc.ErrNotFound when there isn't one.
func (s *Store) Get(ctx context.Context, id string) (*oidc.Session, error) {
	const op = "Store.Get"
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?1;`, s.table), id)
	var data string
	switch err := row.Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%s: session %q: %w", op, id, oidc.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read session: %w", op, err)
	}
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%s: unable to decode session: %w", op, err)
	}
	return rec.session(), nil
}

// Put stores the session, replacing any existing session in a single
// statement.
func (s *Store) Put(ctx context.Context, id string, sess *oidc.Session) error {
	const op = "Store.Put"
	switch {
	case id == "":
		return fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	case sess == nil:
		return fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	data, err := json.Marshal(newRecord(sess))
	if err != nil {
		return fmt.Errorf("%s: unable to encode session: %w", op, err)
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, data, updated_at) VALUES (?1, ?2, ?3)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at;`, s.table),
		id, string(data), updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%s: unable to write session: %w", op, err)
	}
	return nil
}

// Delete removes the session. Deleting a missing session isn't an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "Store.Delete"
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?1;`, s.table), id); err != nil {
		return fmt.Errorf("%s: unable to delete session: %w", op, err)
	}
	return nil
}

// DeleteIdle removes sessions which haven't been updated for longer than
// maxAge and returns how many were removed.
func (s *Store) DeleteIdle(ctx context.Context, maxAge time.Duration) (int64, error) {
	const op = "Store.DeleteIdle"
	if maxAge <= 0 {
		return 0, fmt.Errorf("%s: max age must be positive: %w", op, oidc.ErrInvalidParameter)
	}
	cutoff := s.now().Add(-maxAge).UnixNano()
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE updated_at < ?1;`, s.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to delete sessions: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *Store) Len(ctx context.Context) (int, error) {
	const op = "Store.Len"
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
