// Package paramstore is the persistent knowledge cache of kinetic parameters: inferred and
// fetched parameter sets, raw external-source records, derived statistics, organism
// compatibility and the query cache, all in a single local SQLite file.
//
// Every write runs in one SQL transaction while holding the store's write lock, so
// readers never observe a half-written row or an aggregate over a half-inserted batch.
package paramstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/logging"
)

var (
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = db.ErrNotFound
	// ErrInvalidRating is returned for ratings outside 1-5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrInvalidConfidence is returned for confidences outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	// ErrInvalidRecord is returned when a record fails validation before any write.
	ErrInvalidRecord = errors.New("invalid record")
)

// DefaultFallbackCompatibility is used when no compatibility entry covers an organism pair.
const DefaultFallbackCompatibility = 0.3

// Options configure a Store. The zero value is usable.
type Options struct {
	Logger *logging.Logger
	// Now overrides the clock.
	Now func() time.Time
	// CompatibilitySeed is inserted on open for keys that are not present yet.
	// nil selects DefaultCompatibility(); an empty non-nil slice seeds nothing.
	CompatibilitySeed []db.Compatibility
	// FallbackCompatibility overrides DefaultFallbackCompatibility when > 0.
	FallbackCompatibility float64
}

// Store is the transactional facade over the parameter database.
type Store struct {
	db   *sql.DB
	path string
	log  *logging.Logger
	now  func() time.Time

	fallback float64

	// mu serializes writers.
	mu sync.Mutex

	// rawInsertHook runs before each raw record insert inside the batch transaction.
	rawInsertHook func(i int) error
}

// Open opens (creating if needed) the store at path. ":memory:" gives a private in-memory store.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		path = "kinenrich.db"
	}
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Ensure single connection to avoid separate in-memory DBs per connection.
		conn.SetMaxOpenConns(1)
	}
	s, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// New wraps an already opened connection, running migrations and compatibility seeding.
func New(conn *sql.DB, opts Options) (*Store, error) {
	if err := db.InitDB(conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{
		db:       conn,
		log:      logging.OrNop(opts.Logger).With("component", "paramstore"),
		now:      opts.Now,
		fallback: DefaultFallbackCompatibility,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.FallbackCompatibility > 0 {
		s.fallback = opts.FallbackCompatibility
	}
	seed := opts.CompatibilitySeed
	if seed == nil {
		seed = DefaultCompatibility()
	}
	if err := s.seedCompatibility(context.Background(), seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// WithWriteTx runs fn inside a transaction while holding the write lock. fn's error, or
// a commit failure, rolls everything back.
func (s *Store) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func normalizeOrganism(o string) string {
	return strings.ToLower(strings.Join(strings.Fields(o), " "))
}
