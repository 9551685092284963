package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap or unique constraint
// loses the race.
var ErrConflict = errors.New("conflict")

// Store wraps the Postgres connection. Methods are grouped by entity
// across the files of this package.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects to Postgres and applies pending migrations.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages that manage their own
// statements (the nonce store's insert-or-fail path).
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, rolling back on error.
// Transactions stay short: they enclose only the atomic state change.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Printf("rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}
