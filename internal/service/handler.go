// Package service exposes the report generator over HTTP.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greenhouse-report/internal/api"
	"greenhouse-report/internal/cleaner"
	"greenhouse-report/internal/config"
	"greenhouse-report/internal/report"
	"greenhouse-report/internal/storage"
	"greenhouse-report/internal/supervisor"
	"greenhouse-report/internal/util"
)

const (
	msgServiceUp = "Serviço de IA ativo"
	msgNoData    = "Nenhum dado recebido"

	endpointGenerate = "gerar-report"
)

// Deps are the collaborators of a Handler. Only Retryer is required.
type Deps struct {
	Retryer       *supervisor.Retryer
	Store         storage.Store
	APIServer     *api.Server
	EventBus      *supervisor.EventBus
	Metrics       *supervisor.Metrics
	HealthChecker *supervisor.HealthChecker
	Logger        *slog.Logger
}

// Handler routes every HTTP endpoint of the service.
type Handler struct {
	cfg           config.Config
	logger        *slog.Logger
	retryer       *supervisor.Retryer
	store         storage.Store
	eventBus      *supervisor.EventBus
	metrics       *supervisor.Metrics
	healthChecker *supervisor.HealthChecker
	root          http.Handler
}

// NewHandler builds the router and wraps it with CORS.
func NewHandler(cfg config.Config, deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:           cfg,
		logger:        logger,
		retryer:       deps.Retryer,
		store:         deps.Store,
		eventBus:      deps.EventBus,
		metrics:       deps.Metrics,
		healthChecker: deps.HealthChecker,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/gerar-report", h.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/healthz/upstream", h.handleHealthzUpstream).Methods(http.MethodGet)
	r.HandleFunc("/events", h.handleSSEEvents).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	if deps.APIServer != nil {
		deps.APIServer.Register(r)
	}

	h.root = h.cors(r)

	return h
}

var (
	corsMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	corsDefaultHeaders = []string{"Content-Type", "Authorization", "X-Requested-With"}
)

// cors wraps next with gorilla's CORS handler. gorilla matches preflight
// headers against a fixed list, so with "*" configured each preflight gets a
// handler that also allows the headers it asks for.
func (h *Handler) cors(next http.Handler) http.Handler {
	build := func(headers []string) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins([]string{h.cfg.CORSAllowOrigin}),
			handlers.AllowedMethods(corsMethods),
			handlers.AllowedHeaders(headers),
			handlers.AllowCredentials(),
		)(next)
	}

	allowed := h.cfg.CORSAllowHeaders
	if len(allowed) == 0 {
		allowed = corsDefaultHeaders
	}
	if !slices.Contains(allowed, "*") {
		return build(allowed)
	}

	static := build(corsDefaultHeaders)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := r.Header.Get("Access-Control-Request-Headers")
		if r.Method != http.MethodOptions || requested == "" {
			static.ServeHTTP(w, r)
			return
		}
		headers := append(slices.Clone(corsDefaultHeaders), strings.Split(requested, ",")...)
		build(headers).ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

type errorBody struct {
	Erro string `json:"erro"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": msgServiceUp,
	})
}

// handleGenerate serves POST /gerar-report.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.AddInFlight(1)
	defer h.metrics.AddInFlight(-1)

	row := &storage.Report{
		ID:      uuid.NewString(),
		TSStart: start.UnixMilli(),
		Status:  storage.StatusInFlight,
		Model:   h.retryer.Model(),
	}
	h.insert(row)

	code, body := h.generate(w, r, row)
	if code = h.writeJSON(w, code, body); code == http.StatusInternalServerError && row.Status == storage.StatusSuccess {
		row.Status = storage.StatusError
		row.Reason = storage.ReasonEncodeError
	}

	elapsed := time.Since(start)
	row.HTTPStatus = code
	row.DurationMs = int(elapsed.Milliseconds())
	h.finish(row)

	h.metrics.RecordRequest(endpointGenerate, code, elapsed)
	h.publish(supervisor.Event{
		Type:        supervisor.EventReportDone,
		RequestID:   row.ID,
		ChipID:      row.ChipID,
		RecordCount: row.RecordCount,
		Attempt:     row.Attempts,
		Status:      code,
		DurationMs:  int64(row.DurationMs),
	})
}

// generate runs one request through normalize, prompt, retry and clean. It
// fills row as it goes and returns the status and body to send.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request, row *storage.Report) (int, any) {
	var req report.Request
	err := util.DecodeJSON(http.MaxBytesReader(w, r.Body, h.cfg.RequestBodyMaxBytes), &req)
	if err != nil {
		row.Status = storage.StatusRejected
		row.Reason = storage.ReasonInvalidRequest
		msg := h.describeDecodeError(err)
		h.logger.Info("rejected report request", "request_id", row.ID, "err", err)
		return http.StatusBadRequest, errorBody{Erro: msg}
	}

	row.RecordCount = len(req.Records)
	h.metrics.RecordBatchSize(row.RecordCount)

	pc, err := report.Normalize(req)
	if errors.Is(err, report.ErrEmptyInput) {
		row.Status = storage.StatusRejected
		row.Reason = storage.ReasonEmptyInput
		h.logger.Info("empty report request", "request_id", row.ID)
		return http.StatusOK, errorBody{Erro: msgNoData}
	}
	if err != nil {
		row.Status = storage.StatusRejected
		row.Reason = storage.ReasonInvalidRequest
		return http.StatusBadRequest, errorBody{Erro: err.Error()}
	}

	row.ChipID = pc.ChipID
	row.ValueCount = len(pc.Values)
	row.StatsDerived = pc.StatsDerived

	prompt := report.BuildPrompt(pc)
	row.PromptChars = utf8.RuneCountInString(prompt)

	h.publish(supervisor.Event{
		Type:        supervisor.EventReportStart,
		RequestID:   row.ID,
		ChipID:      pc.ChipID,
		RecordCount: pc.RecordCount,
	})

	// Once retries start they run to completion even if the client leaves.
	res, err := h.retryer.Generate(context.WithoutCancel(r.Context()), row.ID, prompt)
	if err != nil {
		row.Status = storage.StatusError
		var f *supervisor.Failure
		if !errors.As(err, &f) {
			row.Reason = storage.ReasonUpstreamError
			row.ErrorClass = string(supervisor.KindOther)
			return http.StatusInternalServerError, errorBody{Erro: err.Error()}
		}
		row.Attempts = f.Attempts
		row.RateLimitHits = f.RateLimitHits
		row.ErrorClass = string(f.Kind)
		row.Reason = storage.ReasonUpstreamError
		if f.Kind == supervisor.KindRateLimited {
			row.Reason = storage.ReasonRateLimited
		}
		return f.Status, errorBody{Erro: f.Message}
	}

	text := cleaner.Clean(res.Text)
	row.Status = storage.StatusSuccess
	row.Attempts = res.Attempts
	row.RateLimitHits = res.RateLimitHits
	row.ReportChars = utf8.RuneCountInString(text)

	h.logger.Info("report generated",
		"request_id", row.ID,
		"chip_id", pc.ChipID,
		"records", pc.RecordCount,
		"stats_derived", pc.StatsDerived,
		"attempts", res.Attempts,
	)

	return http.StatusOK, report.Response{
		Report:  text,
		Summary: report.NewSummary(pc),
	}
}

func (h *Handler) describeDecodeError(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Sprintf("corpo da requisição excede %d bytes", maxErr.Limit)
	}
	return util.DescribeJSONError(err)
}

func (h *Handler) insert(row *storage.Report) {
	if h.store == nil {
		return
	}
	if err := h.store.Insert(row); err != nil {
		h.logger.Warn("failed to store report telemetry", "request_id", row.ID, "err", err)
	}
}

func (h *Handler) finish(row *storage.Report) {
	if h.store == nil {
		return
	}
	end := time.Now().UnixMilli()
	err := h.store.Update(row.ID, storage.ReportUpdate{
		TSEnd:         &end,
		Status:        &row.Status,
		Reason:        &row.Reason,
		ChipID:        &row.ChipID,
		RecordCount:   &row.RecordCount,
		ValueCount:    &row.ValueCount,
		StatsDerived:  &row.StatsDerived,
		PromptChars:   &row.PromptChars,
		ReportChars:   &row.ReportChars,
		Attempts:      &row.Attempts,
		RateLimitHits: &row.RateLimitHits,
		HTTPStatus:    &row.HTTPStatus,
		DurationMs:    &row.DurationMs,
		ErrorClass:    &row.ErrorClass,
	})
	if err != nil {
		h.logger.Warn("failed to update report telemetry", "request_id", row.ID, "err", err)
	}
}

func (h *Handler) publish(e supervisor.Event) {
	if h.eventBus == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Model = h.retryer.Model()
	h.eventBus.Publish(e)
}

// writeJSON encodes body before touching the response, so an encoding failure
// is reported as a 500 instead of an empty reply. It returns the status sent.
func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		h.logger.Error("failed to encode JSON response", "err", err)
		code = http.StatusInternalServerError
		buf.Reset()
		_ = enc.Encode(errorBody{Erro: fmt.Sprintf("erro ao codificar resposta: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
	return code
}

func (h *Handler) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	if h.eventBus == nil {
		http.Error(w, "event bus not available", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := h.eventBus.Subscribe()
	defer h.eventBus.Unsubscribe(eventCh)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			frame, err := supervisor.FormatSSEEvent(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleHealthz reports process liveness only.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleHealthzUpstream(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"healthy": true,
			"checked": false,
		})
		return
	}

	healthy := h.healthChecker.Healthy()
	resp := map[string]any{
		"healthy": healthy,
		"checked": true,
		"model":   h.retryer.Model(),
	}
	if lc := h.healthChecker.LastCheck(); !lc.IsZero() {
		resp["last_check"] = lc.Format(time.RFC3339)
	}
	if lastErr := h.healthChecker.LastError(); lastErr != "" {
		resp["last_error"] = lastErr
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}
