package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nebari-dev/canvas-templates/internal/config"
	"github.com/nebari-dev/canvas-templates/internal/db"
	"gorm.io/gorm"
)

// ErrNotFound indicates no template matched the given id.
var ErrNotFound = errors.New("template not found")

// Error is a storage failure. Message is safe to show to clients; the
// underlying cause is kept for logging and errors.Is/As.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Opener establishes the database connection on first use.
type Opener func() (*gorm.DB, error)

// Store persists template metadata. The database connection is opened lazily
// by the first operation and shared by every later one until Close.
type Store struct {
	open  Opener
	now   func() time.Time
	newID func() string

	mu sync.Mutex
	db *gorm.DB
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides how ids are minted for templates created without one.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates a Store that connects through open when first used.
func New(open Opener, opts ...Option) *Store {
	s := &Store{
		open:  open,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a Store backed by the configured database. Migrations run as
// part of the first connection.
func Open(cfg config.DatabaseConfig, opts ...Option) *Store {
	return New(func() (*gorm.DB, error) {
		database, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(database); err != nil {
			return nil, err
		}
		return database, nil
	}, opts...)
}

// FromDB wraps an already open connection.
func FromDB(database *gorm.DB, opts ...Option) *Store {
	s := New(func() (*gorm.DB, error) { return database, nil }, opts...)
	s.db = database
	return s
}

// conn returns the shared connection, establishing it if needed. Concurrent
// first callers wait for a single connection attempt; a failed attempt is
// retried by the next caller.
func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		database, err := s.open()
		if err != nil {
			slog.Error("Failed to connect to metadata database", "error", err)
			return nil, &Error{Message: "Database connection error", Err: err}
		}
		s.db = database
		slog.Info("Connected to metadata database")
	}
	return s.db.WithContext(ctx), nil
}

// Connect eagerly establishes the shared connection.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

// Close tears down the shared connection. A later operation reconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		slog.Error("Failed to disconnect from metadata database", "error", err)
		return fmt.Errorf("disconnect: %w", err)
	}
	s.db = nil
	if err := sqlDB.Close(); err != nil {
		slog.Error("Failed to disconnect from metadata database", "error", err)
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}
