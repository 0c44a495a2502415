//go:build mips64 || mips64le || ppc64 || s390x

package storage

import (
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("sqlite storage not available on this platform")

// SQLiteStore is a stub for platforms modernc.org/sqlite does not support.
type SQLiteStore struct{}

// NewSQLiteStore always fails on this platform; use memory storage instead.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errSQLiteUnavailable
}

// Insert always fails on this platform.
func (s *SQLiteStore) Insert(r *Report) error {
	return errSQLiteUnavailable
}

func (s *SQLiteStore) Update(id string, upd ReportUpdate) error {
	return errSQLiteUnavailable
}

func (s *SQLiteStore) GetByID(id string) (*Report, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) List(opts ListOptions) ([]Report, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) InFlightCount() (int, error) {
	return 0, errSQLiteUnavailable
}

func (s *SQLiteStore) Close() error {
	return nil
}
