package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"greenhouse-report/internal/storage"
	"greenhouse-report/internal/supervisor"
)

const maxListLimit = 500

// OverviewResponse wraps the aggregate statistics for a window.
type OverviewResponse struct {
	Window   string           `json:"window"`
	Summary  storage.Overview `json:"summary"`
	InFlight int              `json:"in_flight"`
}

// handleOverview returns summary statistics.
// GET /api/v1/overview?window=1h|24h|7d
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	window := parseWindow(r)

	s.overviewCacheMu.RLock()
	if cached, ok := s.overviewCache[window]; ok && s.now().Before(cached.expiresAt) {
		s.overviewCacheMu.RUnlock()
		s.writeJSON(w, cached.data)
		return
	}
	s.overviewCacheMu.RUnlock()

	overview, err := s.store.Overview(window)
	if err != nil {
		s.logger.Error("failed to get overview", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}
	inFlight, _ := s.store.InFlightCount()

	resp := &OverviewResponse{
		Window:   window.String(),
		Summary:  *overview,
		InFlight: inFlight,
	}

	s.overviewCacheMu.Lock()
	s.overviewCache[window] = &cachedOverview{
		data:      resp,
		expiresAt: s.now().Add(overviewCacheDuration),
	}
	s.overviewCacheMu.Unlock()

	s.writeJSON(w, resp)
}

// ReportListItem is a summary row for list views.
type ReportListItem struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"ts"`
	ChipID      string `json:"chip_id,omitempty"`
	RecordCount int    `json:"record_count"`
	Attempts    int    `json:"attempts"`
	DurationMs  int    `json:"duration_ms"`
	HTTPStatus  int    `json:"http_status"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// ReportListResponse is a page of reports.
type ReportListResponse struct {
	Reports []ReportListItem `json:"reports"`
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// handleListReports returns a page of reports, newest first.
// GET /api/v1/reports?limit=50&offset=0&status=&chip=&window=24h
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	q := r.URL.Query()
	limit := min(parseInt(q.Get("limit"), 50), maxListLimit)
	if limit == 0 {
		limit = 50
	}
	offset := parseInt(q.Get("offset"), 0)

	opts := storage.ListOptions{
		Limit:  limit,
		Offset: offset,
		Window: parseWindow(r),
		ChipID: q.Get("chip"),
	}
	if status := q.Get("status"); status != "" {
		st := storage.Status(status)
		opts.Status = &st
	}

	reports, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("failed to list reports", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	items := make([]ReportListItem, len(reports))
	for i, rep := range reports {
		items[i] = ReportListItem{
			ID:          rep.ID,
			Timestamp:   rep.TSStart,
			ChipID:      rep.ChipID,
			RecordCount: rep.RecordCount,
			Attempts:    rep.Attempts,
			DurationMs:  rep.DurationMs,
			HTTPStatus:  rep.HTTPStatus,
			Status:      string(rep.Status),
			Reason:      string(rep.Reason),
		}
	}

	s.writeJSON(w, ReportListResponse{
		Reports: items,
		Count:   len(items),
		Limit:   limit,
		Offset:  offset,
	})
}

// handleGetReport returns the full telemetry row.
// GET /api/v1/reports/{id}
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	id := mux.Vars(r)["id"]
	rep, err := s.store.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get report", "err", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}
	if rep == nil {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}

	s.writeJSON(w, rep)
}

// ConfigResponse is the redacted runtime configuration.
type ConfigResponse struct {
	Model               string `json:"model"`
	APIKey              string `json:"google_api_key"`
	MaxAttempts         int    `json:"max_attempts"`
	Storage             string `json:"storage"`
	StorageMaxRows      int    `json:"storage_max_rows"`
	RequestBodyMaxBytes int64  `json:"request_body_max_bytes"`
	HealthCheckEnabled  bool   `json:"health_check_enabled"`
	HealthCheckInterval string `json:"health_check_interval"`
}

// handleConfig returns the current configuration with secrets masked.
// GET /api/v1/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Redacted()

	s.writeJSON(w, ConfigResponse{
		Model:               cfg.Model,
		APIKey:              cfg.GoogleAPIKey,
		MaxAttempts:         supervisor.MaxAttempts,
		Storage:             string(cfg.Storage),
		StorageMaxRows:      cfg.StorageMaxRows,
		RequestBodyMaxBytes: cfg.RequestBodyMaxBytes,
		HealthCheckEnabled:  cfg.HealthCheckEnabled,
		HealthCheckInterval: cfg.HealthCheckInterval.String(),
	})
}
