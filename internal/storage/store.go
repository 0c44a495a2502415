// Package storage keeps telemetry for report requests.
// Only metadata is stored: no sensor values, prompts or report text.
package storage

import (
	"fmt"
	"log/slog"
	"time"
)

// Status is the final state of a report request.
type Status string

const (
	StatusInFlight Status = "in_flight"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusRejected Status = "rejected"
)

// Reason details an error or rejected status.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonEmptyInput     Reason = "empty_input"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonUpstreamError  Reason = "upstream_error"
	ReasonEncodeError    Reason = "encode_error"
)

// Report is the telemetry row of one POST /gerar-report call.
type Report struct {
	ID      string `json:"id"`
	TSStart int64  `json:"ts_start"` // unix ms
	TSEnd   *int64 `json:"ts_end"`   // nil while in flight
	Status  Status `json:"status"`
	Reason  Reason `json:"reason,omitempty"`

	// Batch shape
	ChipID       string `json:"chip_id,omitempty"`
	RecordCount  int    `json:"record_count"`
	ValueCount   int    `json:"value_count"`
	StatsDerived bool   `json:"stats_derived"`

	// Generation
	Model         string `json:"model"`
	PromptChars   int    `json:"prompt_chars"`
	ReportChars   int    `json:"report_chars"`
	Attempts      int    `json:"attempts"`
	RateLimitHits int    `json:"rate_limit_hits"`

	HTTPStatus int    `json:"http_status"`
	DurationMs int    `json:"duration_ms"`
	ErrorClass string `json:"error_class,omitempty"`
}

// ReportUpdate holds the fields set once a request completes.
type ReportUpdate struct {
	TSEnd         *int64
	Status        *Status
	Reason        *Reason
	ChipID        *string
	RecordCount   *int
	ValueCount    *int
	StatsDerived  *bool
	PromptChars   *int
	ReportChars   *int
	Attempts      *int
	RateLimitHits *int
	HTTPStatus    *int
	DurationMs    *int
	ErrorClass    *string
}

// ListOptions filters for listing reports.
type ListOptions struct {
	Limit  int
	Offset int
	Status *Status
	ChipID string
	Window time.Duration // only reports started within this window
}

// Overview contains summary statistics for a time window.
type Overview struct {
	TotalReports  int     `json:"total_reports"`
	SuccessCount  int     `json:"success_count"`
	ErrorCount    int     `json:"error_count"`
	RejectedCount int     `json:"rejected_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs int     `json:"avg_duration_ms"`
	P95DurationMs int     `json:"p95_duration_ms"`
	TotalRecords  int     `json:"total_records"`
	Attempts      int     `json:"attempts"`
	RateLimitHits int     `json:"rate_limit_hits"`
	QuotaFailures int     `json:"quota_failures"`
}

// Store is the interface for report telemetry storage.
type Store interface {
	// Insert creates a new record when a request starts.
	Insert(r *Report) error

	// Update modifies an existing record when the request completes.
	Update(id string, upd ReportUpdate) error

	// GetByID returns nil, nil when the id is unknown.
	GetByID(id string) (*Report, error)

	// List returns reports newest first.
	List(opts ListOptions) ([]Report, error)

	Overview(window time.Duration) (*Overview, error)

	InFlightCount() (int, error)

	Close() error
}

// Open returns the backend named by kind ("memory", "sqlite" or "off").
// "off" yields a nil Store.
func Open(kind, path string, maxRows int, logger *slog.Logger) (Store, error) {
	switch kind {
	case "memory":
		return NewMemoryStore(maxRows), nil
	case "sqlite":
		s, err := NewSQLiteStore(path, maxRows, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// p95 expects sorted input.
func p95(sorted []int) int {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
