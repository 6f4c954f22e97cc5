package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/riskboard/internal/aggregate"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/progress"
	"github.com/opensource-finance/riskboard/internal/repository"
	"github.com/opensource-finance/riskboard/internal/scoring"
	"github.com/opensource-finance/riskboard/internal/session"
	"github.com/opensource-finance/riskboard/internal/view"
)

// DefaultMaxUploadBytes bounds an upload when no limit is configured.
const DefaultMaxUploadBytes = 256 << 20

// Memory kept for multipart parsing; the rest spills to temp files.
const multipartMemory = 32 << 20

// HandlerOptions carries settings that are not components.
type HandlerOptions struct {
	Version        string
	ScoringMode    domain.ScoringMode
	FileField      string
	MaxUploadBytes int64
	Tracing        domain.TracingConfig
}

// Handler holds dependencies for API handlers.
type Handler struct {
	sessions *session.Manager
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	opts     HandlerOptions
}

// NewHandler creates a new API handler.
func NewHandler(sessions *session.Manager, repo domain.Repository, cache domain.Cache, bus domain.EventBus, opts HandlerOptions) *Handler {
	if opts.FileField == "" {
		opts.FileField = "file"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		sessions: sessions,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		opts:     opts,
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error      string   `json:"error"`
	StatusCode int      `json:"statusCode,omitempty"`
	Hints      []string `json:"hints,omitempty"`
}

// AnalysisResponse is the dashboard view of an analysis.
type AnalysisResponse struct {
	*domain.Analysis
	Chart []domain.ChartBar `json:"chart"`
	Hints []string          `json:"hints,omitempty"`
}

func newAnalysisResponse(a *domain.Analysis) AnalysisResponse {
	resp := AnalysisResponse{
		Analysis: a,
		Chart:    aggregate.TopRiskChart(a.Summary),
	}
	if a.Warning != nil {
		resp.Hints = scoring.RemediationHints(a.Warning.Message)
	}
	return resp
}

// TransactionRow is one table row with its display strings.
type TransactionRow struct {
	Record      domain.ProcessedTransaction `json:"record"`
	Amount      string                      `json:"amount"`
	Date        string                      `json:"date"`
	Probability string                      `json:"probability"`
}

func newRows(list []domain.ProcessedTransaction) []TransactionRow {
	rows := make([]TransactionRow, len(list))
	for i := range list {
		rec := &list[i]
		var amount *float64
		if v, ok := rec.ResolvedAmount(); ok {
			amount = &v
		}
		rows[i] = TransactionRow{
			Record:      *rec,
			Amount:      domain.FormatAmount(amount),
			Date:        domain.FormatDate(rec.ResolvedDate()),
			Probability: domain.FormatProbability(rec.FraudProbability),
		}
	}
	return rows
}

// PageResponse is one page of the transaction table.
type PageResponse struct {
	Query      string           `json:"query"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
	Total      int              `json:"total"`
	Matched    int              `json:"matched"`
	Labels     []view.PageLabel `json:"labels"`
	Rows       []TransactionRow `json:"rows"`
}

// TopResponse lists the highest-probability records of one bucket.
type TopResponse struct {
	Level domain.RiskLevel `json:"level"`
	Label string           `json:"label"`
	Rows  []TransactionRow `json:"rows"`
}

// ProgressResponse reports the synthetic upload progress.
type ProgressResponse struct {
	progress.Status
	InFlight bool `json:"inFlight"`
}

// Upload handles POST /analyses with a multipart CSV file.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if r.ContentLength > h.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "invalid multipart request")
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	up, err := h.readUpload(r)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	a, err := h.sessions.Submit(ctx, tenantID, up)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAnalysisResponse(a))
}

func (h *Handler) readUpload(r *http.Request) (scoring.Upload, error) {
	file, header, err := r.FormFile(h.opts.FileField)
	if err != nil {
		// missing field and non-multipart bodies both mean no file
		return scoring.Upload{}, session.ErrNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return scoring.Upload{}, err
	}
	return scoring.Upload{FileName: header.Filename, Data: data}, nil
}

// Demo handles POST /analyses/demo?count=N.
func (h *Handler) Demo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "count must be a non-negative integer")
			return
		}
		count = n
	}

	a, err := h.sessions.Demo(ctx, tenantID, count)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAnalysisResponse(a))
}

// Current handles GET /analysis.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	a, ok := h.sessions.Current(GetTenantID(r.Context()))
	if !ok {
		h.writeSessionError(w, session.ErrNoAnalysis)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(a))
}

// Reset handles DELETE /analysis.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Reset(GetTenantID(r.Context())); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transactions handles GET /analysis/transactions.
//
// Parameters are applied in order: q (always resets to page 1), page, jump,
// fraction. The table keeps its state between requests.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	table, ok := h.sessions.Table(GetTenantID(r.Context()))
	if !ok {
		h.writeSessionError(w, session.ErrNoAnalysis)
		return
	}

	var nav view.Navigation
	q := r.URL.Query()
	if q.Has("q") {
		query := q.Get("q")
		nav.Query = &query
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		nav.Page = max(page, 1)
	}
	if v := q.Get("jump"); v != "" {
		j, err := view.ParseJump(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		nav.Jump = j
	}
	if v := q.Get("fraction"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			writeError(w, http.StatusBadRequest, "fraction must be a finite number")
			return
		}
		nav.Fraction = &f
	}

	snap := table.Apply(nav)
	writeJSON(w, http.StatusOK, PageResponse{
		Query:      snap.Query,
		Page:       snap.Page,
		PageSize:   snap.PageSize,
		TotalPages: snap.TotalPages,
		Total:      snap.Total,
		Matched:    snap.Matched,
		Labels:     snap.Labels,
		Rows:       newRows(snap.Rows),
	})
}

// Top handles GET /analysis/top/{level}.
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	level, err := domain.ParseRiskLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "level must be high, medium or low")
		return
	}

	a, ok := h.sessions.Current(GetTenantID(r.Context()))
	if !ok {
		h.writeSessionError(w, session.ErrNoAnalysis)
		return
	}

	writeJSON(w, http.StatusOK, TopResponse{
		Level: level,
		Label: level.Label(),
		Rows:  newRows(a.Summary.Top(level)),
	})
}

// Progress handles GET /analysis/progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	writeJSON(w, http.StatusOK, ProgressResponse{
		Status:   h.sessions.Progress(tenantID),
		InFlight: h.sessions.InFlight(tenantID),
	})
}

// ListAnalyses handles GET /analyses?limit=N.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := h.repo.ListAnalyses(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list analyses", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if records == nil {
		records = []*domain.AnalysisRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": records,
		"count":    len(records),
	})
}

// GetAnalysis handles GET /analyses/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rec, err := h.repo.GetAnalysis(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		slog.Error("failed to get analysis", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     h.opts.Version,
		"scoringMode": h.opts.ScoringMode,
		"checks":      checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeSessionError maps session and scoring errors to HTTP replies.
func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:      apiErr.Message,
			StatusCode: apiErr.StatusCode,
			Hints:      scoring.RemediationHints(apiErr.Message),
		})
	case errors.Is(err, session.ErrNoFile), errors.Is(err, session.ErrInvalidFileType),
		errors.Is(err, session.ErrDemoTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, session.ErrNoAnalysis):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
