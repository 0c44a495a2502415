// Package api serves report telemetry under /api/v1.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"greenhouse-report/internal/config"
	"greenhouse-report/internal/storage"
)

const (
	// APIPrefix is the base path for all API endpoints.
	APIPrefix = "/api/v1"

	// Overview responses are cached to absorb dashboard refresh storms.
	overviewCacheDuration = 2 * time.Second
)

// Server handles telemetry API requests.
type Server struct {
	store  storage.Store
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time

	overviewCache   map[time.Duration]*cachedOverview
	overviewCacheMu sync.RWMutex
}

type cachedOverview struct {
	data      *OverviewResponse
	expiresAt time.Time
}

// NewServer creates a new API server. store may be nil when storage is off.
func NewServer(store storage.Store, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:         store,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		overviewCache: make(map[time.Duration]*cachedOverview),
	}
}

// Register mounts the API routes on r under APIPrefix. They are registered on
// r directly so a wrong method gets 405; a PathPrefix subrouter answers 404.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc(APIPrefix+"/overview", s.handleOverview).Methods(http.MethodGet)
	r.HandleFunc(APIPrefix+"/reports", s.handleListReports).Methods(http.MethodGet)
	r.HandleFunc(APIPrefix+"/reports/{id}", s.handleGetReport).Methods(http.MethodGet)
	r.HandleFunc(APIPrefix+"/config", s.handleConfig).Methods(http.MethodGet)
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(b, '\n'))
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseWindow(r *http.Request) time.Duration {
	w := r.URL.Query().Get("window")
	switch w {
	case "1h":
		return time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "24h", "":
		return 24 * time.Hour
	default:
		if d, err := time.ParseDuration(w); err == nil && d > 0 {
			return d
		}
		return 24 * time.Hour
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
