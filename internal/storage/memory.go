package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory ring buffer.
type MemoryStore struct {
	mu      sync.RWMutex
	reports []Report
	byID    map[string]int // ID -> index in reports
	maxRows int
	head    int // next write position
	count   int
}

// NewMemoryStore creates a new in-memory store holding at most maxRows.
func NewMemoryStore(maxRows int) *MemoryStore {
	if maxRows <= 0 {
		maxRows = 1
	}
	return &MemoryStore{
		reports: make([]Report, maxRows),
		byID:    make(map[string]int),
		maxRows: maxRows,
	}
}

// Insert adds a report, evicting the oldest when full.
func (s *MemoryStore) Insert(r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == s.maxRows {
		delete(s.byID, s.reports[s.head].ID)
	}

	s.reports[s.head] = *r
	s.byID[r.ID] = s.head

	s.head = (s.head + 1) % s.maxRows
	if s.count < s.maxRows {
		s.count++
	}
	return nil
}

// Update modifies an existing report. Unknown ids are ignored.
func (s *MemoryStore) Update(id string, upd ReportUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	r := &s.reports[idx]

	if upd.TSEnd != nil {
		v := *upd.TSEnd
		r.TSEnd = &v
	}
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.Reason != nil {
		r.Reason = *upd.Reason
	}
	if upd.ChipID != nil {
		r.ChipID = *upd.ChipID
	}
	if upd.RecordCount != nil {
		r.RecordCount = *upd.RecordCount
	}
	if upd.ValueCount != nil {
		r.ValueCount = *upd.ValueCount
	}
	if upd.StatsDerived != nil {
		r.StatsDerived = *upd.StatsDerived
	}
	if upd.PromptChars != nil {
		r.PromptChars = *upd.PromptChars
	}
	if upd.ReportChars != nil {
		r.ReportChars = *upd.ReportChars
	}
	if upd.Attempts != nil {
		r.Attempts = *upd.Attempts
	}
	if upd.RateLimitHits != nil {
		r.RateLimitHits = *upd.RateLimitHits
	}
	if upd.HTTPStatus != nil {
		r.HTTPStatus = *upd.HTTPStatus
	}
	if upd.DurationMs != nil {
		r.DurationMs = *upd.DurationMs
	}
	if upd.ErrorClass != nil {
		r.ErrorClass = *upd.ErrorClass
	}
	return nil
}

// GetByID retrieves a single report.
func (s *MemoryStore) GetByID(id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	r := s.reports[idx]
	return &r, nil
}

// List returns reports matching opts, newest first.
func (s *MemoryStore) List(opts ListOptions) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := int64(0)
	if opts.Window > 0 {
		cutoff = time.Now().UnixMilli() - opts.Window.Milliseconds()
	}

	var filtered []Report
	for _, r := range s.collectOrdered() {
		if opts.Status != nil && r.Status != *opts.Status {
			continue
		}
		if opts.ChipID != "" && r.ChipID != opts.ChipID {
			continue
		}
		if cutoff > 0 && r.TSStart < cutoff {
			continue
		}
		filtered = append(filtered, r)
	}

	if opts.Offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// Overview aggregates the reports started within window.
func (s *MemoryStore) Overview(window time.Duration) (*Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	var o Overview
	var durations []int
	for _, r := range s.collectOrdered() {
		if r.TSStart < cutoff {
			continue
		}

		o.TotalReports++
		switch r.Status {
		case StatusSuccess:
			o.SuccessCount++
		case StatusError:
			o.ErrorCount++
		case StatusRejected:
			o.RejectedCount++
		}
		if r.Status != StatusInFlight {
			durations = append(durations, r.DurationMs)
		}
		if r.Reason == ReasonRateLimited {
			o.QuotaFailures++
		}
		o.TotalRecords += r.RecordCount
		o.Attempts += r.Attempts
		o.RateLimitHits += r.RateLimitHits
	}

	if o.TotalReports > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalReports)
	}
	if len(durations) > 0 {
		sort.Ints(durations)
		sum := 0
		for _, d := range durations {
			sum += d
		}
		o.AvgDurationMs = sum / len(durations)
		o.P95DurationMs = p95(durations)
	}
	return &o, nil
}

// InFlightCount returns the number of in-flight reports.
func (s *MemoryStore) InFlightCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := 0; i < s.count; i++ {
		if s.reports[i].Status == StatusInFlight {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// collectOrdered returns reports newest first. Caller holds mu.
func (s *MemoryStore) collectOrdered() []Report {
	if s.count == 0 {
		return nil
	}
	out := make([]Report, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		out = append(out, s.reports[idx])
	}
	return out
}
