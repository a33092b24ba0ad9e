package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/slackersnooze/models"
	"github.com/mohammad-safakhou/slackersnooze/session"
)

// Store is the Postgres-backed document, word, session and click store.
type Store struct {
	DB *sql.DB
}

var (
	ErrDocNotFound    = models.ErrDocNotFound
	ErrUnknownSession = session.ErrUnknownSession
)

// NewWithDSN opens and pings a Postgres connection pool.
func NewWithDSN(ctx context.Context, dsn string, timeout time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Ping reports whether a connection can be checked out and used.
func (s *Store) Ping(ctx context.Context) error {
	return s.WithConn(ctx, func(c *sql.Conn) error { return c.PingContext(ctx) })
}

// WithConn runs fn on a dedicated connection that is returned to the pool on every exit path.
func (s *Store) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// withTx commits when fn succeeds and rolls back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return fn(tx)
}
