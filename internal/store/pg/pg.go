// Package pg is the Postgres persistence layer, using database/sql over the
// pgx stdlib driver.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"churchmap.org/internal/directory"
)

// Store owns the connection pool and hands out the per-concern stores.
type Store struct {
	db *sql.DB
}

var _ directory.Store = (*Store)(nil)

// Open connects to Postgres and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool, for tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Entities returns the store for one record kind.
func (s *Store) Entities(kind directory.Kind) directory.EntityStore {
	return &entityStore{db: s.db, kind: kind}
}

// Memberships returns the church/network affiliation store.
func (s *Store) Memberships() directory.MembershipStore {
	return &membershipStore{db: s.db}
}

// APITokens returns the long-lived token store.
func (s *Store) APITokens() *APITokenStore { return &APITokenStore{db: s.db} }

// Sessions returns the read-only session store shared with the web app.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

// Users returns the role directory shared with the web app.
func (s *Store) Users() *UserDirectory { return &UserDirectory{db: s.db} }

// OAuth returns the OAuth client/code/token store.
func (s *Store) OAuth() *OAuthStore { return &OAuthStore{db: s.db} }

// Audit returns the append-only audit store.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// millis converts a stored epoch-milliseconds stamp back to UTC time.
func millis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// nullTime converts a nullable column to *time.Time.
func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
