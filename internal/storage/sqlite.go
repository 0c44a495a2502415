//go:build !mips64 && !mips64le && !ppc64 && !s390x

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    ts_start INTEGER NOT NULL,
    ts_end INTEGER,
    status TEXT NOT NULL DEFAULT 'in_flight',
    reason TEXT,

    chip_id TEXT,
    record_count INTEGER DEFAULT 0,
    value_count INTEGER DEFAULT 0,
    stats_derived INTEGER DEFAULT 0,

    model TEXT,
    prompt_chars INTEGER DEFAULT 0,
    report_chars INTEGER DEFAULT 0,
    attempts INTEGER DEFAULT 0,
    rate_limit_hits INTEGER DEFAULT 0,

    http_status INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    error_class TEXT
);

CREATE INDEX IF NOT EXISTS idx_reports_ts_start ON reports(ts_start);
CREATE INDEX IF NOT EXISTS idx_reports_chip_ts ON reports(chip_id, ts_start);
CREATE INDEX IF NOT EXISTS idx_reports_status_ts ON reports(status, ts_start);
`

const reportColumns = `id, ts_start, ts_end, status, reason,
	chip_id, record_count, value_count, stats_derived,
	model, prompt_chars, report_chars, attempts, rate_limit_hits,
	http_status, duration_ms, error_class`

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
	pruneMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{db: db, maxRows: maxRows, logger: logger}, nil
}

// Insert creates a new report record and prunes old rows in the background.
func (s *SQLiteStore) Insert(r *Report) error {
	_, err := s.db.Exec(`INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TSStart, r.TSEnd, string(r.Status), string(r.Reason),
		r.ChipID, r.RecordCount, r.ValueCount, boolToInt(r.StatsDerived),
		r.Model, r.PromptChars, r.ReportChars, r.Attempts, r.RateLimitHits,
		r.HTTPStatus, r.DurationMs, r.ErrorClass,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	go s.maybePrune()
	return nil
}

// Update modifies an existing report.
func (s *SQLiteStore) Update(id string, upd ReportUpdate) error {
	var sets []string
	var args []any

	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.TSEnd != nil {
		set("ts_end", *upd.TSEnd)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Reason != nil {
		set("reason", string(*upd.Reason))
	}
	if upd.ChipID != nil {
		set("chip_id", *upd.ChipID)
	}
	if upd.RecordCount != nil {
		set("record_count", *upd.RecordCount)
	}
	if upd.ValueCount != nil {
		set("value_count", *upd.ValueCount)
	}
	if upd.StatsDerived != nil {
		set("stats_derived", boolToInt(*upd.StatsDerived))
	}
	if upd.PromptChars != nil {
		set("prompt_chars", *upd.PromptChars)
	}
	if upd.ReportChars != nil {
		set("report_chars", *upd.ReportChars)
	}
	if upd.Attempts != nil {
		set("attempts", *upd.Attempts)
	}
	if upd.RateLimitHits != nil {
		set("rate_limit_hits", *upd.RateLimitHits)
	}
	if upd.HTTPStatus != nil {
		set("http_status", *upd.HTTPStatus)
	}
	if upd.DurationMs != nil {
		set("duration_ms", *upd.DurationMs)
	}
	if upd.ErrorClass != nil {
		set("error_class", *upd.ErrorClass)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE reports SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// GetByID retrieves a single report.
func (s *SQLiteStore) GetByID(id string) (*Report, error) {
	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)

	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// List retrieves reports newest first.
func (s *SQLiteStore) List(opts ListOptions) ([]Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE 1=1`
	var args []any

	if opts.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*opts.Status))
	}
	if opts.ChipID != "" {
		query += " AND chip_id = ?"
		args = append(args, opts.ChipID)
	}
	if opts.Window > 0 {
		query += " AND ts_start >= ?"
		args = append(args, time.Now().UnixMilli()-opts.Window.Milliseconds())
	}

	query += " ORDER BY ts_start DESC, rowid DESC"

	// SQLite requires LIMIT when OFFSET is used; -1 means no limit.
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// Overview aggregates the reports started within window.
func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status != 'in_flight' THEN duration_ms END), 0),
			COALESCE(SUM(record_count), 0),
			COALESCE(SUM(attempts), 0),
			COALESCE(SUM(rate_limit_hits), 0),
			COALESCE(SUM(CASE WHEN reason = 'rate_limited' THEN 1 ELSE 0 END), 0)
		FROM reports
		WHERE ts_start >= ?
	`, cutoff)

	var o Overview
	var avgDur float64
	err := row.Scan(&o.TotalReports, &o.SuccessCount, &o.ErrorCount, &o.RejectedCount,
		&avgDur, &o.TotalRecords, &o.Attempts, &o.RateLimitHits, &o.QuotaFailures)
	if err != nil {
		return nil, fmt.Errorf("overview query: %w", err)
	}

	o.AvgDurationMs = int(avgDur)
	if o.TotalReports > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalReports)
	}

	rows, err := s.db.Query(`
		SELECT duration_ms FROM reports
		WHERE ts_start >= ? AND status != 'in_flight'
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("overview durations: %w", err)
	}
	defer rows.Close()

	var durations []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		durations = append(durations, d)
	}
	sort.Ints(durations)
	o.P95DurationMs = p95(durations)

	return &o, rows.Err()
}

// InFlightCount returns the number of in-flight reports.
func (s *SQLiteStore) InFlightCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM reports WHERE status = 'in_flight'`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// maybePrune deletes the oldest rows beyond maxRows, at most 500 per call.
func (s *SQLiteStore) maybePrune() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reports`).Scan(&count); err != nil {
		s.logger.Error("prune count query failed", "err", err)
		return
	}
	if count <= s.maxRows {
		return
	}

	toDelete := min(count-s.maxRows, 500)
	_, err := s.db.Exec(`
		DELETE FROM reports WHERE id IN (
			SELECT id FROM reports ORDER BY ts_start ASC, rowid ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
		return
	}
	s.logger.Debug("pruned old reports", "deleted", toDelete)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var r Report
	var tsEnd sql.NullInt64
	var status string
	var reason, chipID, model, errorClass sql.NullString
	var derived int

	err := row.Scan(
		&r.ID, &r.TSStart, &tsEnd, &status, &reason,
		&chipID, &r.RecordCount, &r.ValueCount, &derived,
		&model, &r.PromptChars, &r.ReportChars, &r.Attempts, &r.RateLimitHits,
		&r.HTTPStatus, &r.DurationMs, &errorClass,
	)
	if err != nil {
		return nil, err
	}

	if tsEnd.Valid {
		r.TSEnd = &tsEnd.Int64
	}
	r.Status = Status(status)
	r.Reason = Reason(reason.String)
	r.ChipID = chipID.String
	r.Model = model.String
	r.ErrorClass = errorClass.String
	r.StatsDerived = derived != 0
	return &r, nil
}
