package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/render"
)

// Error codes returned as {"ok":false,"error":<code>}.
const (
	codeNoURLs            = "no-urls"
	codeInvalidFields     = "invalid-fields"
	codeInvalidBody       = "invalid-body"
	codeTooManyURLs       = "too-many-urls"
	codeBodyTooLarge      = "body-too-large"
	codeUnsupportedFormat = "unsupported-format"
	codePDFNotImplemented = "pdf-not-implemented"
	codeJobNotFound       = "job-not-found"
	codeJobNotFinished    = "job-not-finished"
	codeInternal          = "internal-error"
)

// Extractor runs a batch of URLs. *scraper.Service implements it.
type Extractor interface {
	ExtractBatch(ctx context.Context, urls []string) []models.ProductRecord
}

// JobManager is the async side. *jobs.Manager implements it.
type JobManager interface {
	CreateJob(ctx context.Context, req models.TableRequest) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// OutboxCounter reports relay backlog for the health check.
type OutboxCounter interface {
	Counts(ctx context.Context) (waiting, deadLetter int64, err error)
}

type Handlers struct {
	extractor    Extractor
	jobs         JobManager
	outbox       OutboxCounter
	logger       *slog.Logger
	maxURLs      int
	maxBodyBytes int64
	started      time.Time
}

type Config struct {
	MaxBatchURLs int
	MaxBodyBytes int64
}

func NewHandlers(extractor Extractor, jobs JobManager, outbox OutboxCounter, cfg Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	return &Handlers{
		extractor:    extractor,
		jobs:         jobs,
		outbox:       outbox,
		logger:       logger.With("component", "api"),
		maxURLs:      cfg.MaxBatchURLs,
		maxBodyBytes: cfg.MaxBodyBytes,
		started:      time.Now(),
	}
}

// Health reports liveness, uptime in seconds and, when postgres backs the
// jobs, the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Seconds(),
		"ts":     time.Now().UnixMilli(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		waiting, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox counts", "error", err)
			health["status"] = "error"
			health["message"] = "database unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = map[string]int64{"pending": waiting, "dead_letter": deadLetter}
			if waiting > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
		}
	}

	h.respondJSON(w, status, health)
}

type tableMeta struct {
	Format    string   `json:"format"`
	Fields    []string `json:"fields"`
	Languages []string `json:"languages"`
}

type tableResponse struct {
	OK     bool                `json:"ok"`
	Result []map[string]string `json:"result"`
	Meta   tableMeta           `json:"meta"`
}

// GenerateTable extracts every URL in the request and returns the rows in the
// requested format.
func (h *Handlers) GenerateTable(w http.ResponseWriter, r *http.Request) {
	req, format, ok := h.decodeTableRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	rows := h.extractor.ExtractBatch(r.Context(), req.URLs)
	h.logger.Info("table generated",
		"urls", len(req.URLs),
		"rows", len(rows),
		"format", format,
		"duration", time.Since(start))

	h.writeTable(w, format, rows, req)
}

type createJobResponse struct {
	OK     bool             `json:"ok"`
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, format, ok := h.decodeTableRequest(w, r)
	if !ok {
		return
	}
	req.Format = string(format)

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal)
		return
	}

	h.respondJSON(w, http.StatusCreated, createJobResponse{OK: true, JobID: job.ID, Status: job.Status})
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job.Summary()})
}

// ExportJob renders a finished job's rows. The format defaults to the one
// given when the job was created.
func (h *Handlers) ExportJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}

	if !job.Status.Done() {
		h.respondJSON(w, http.StatusConflict, map[string]any{
			"ok": false, "error": codeJobNotFinished, "status": job.Status,
		})
		return
	}

	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = job.Request.Format
	}
	format, ok := h.checkFormat(w, raw)
	if !ok {
		return
	}

	h.writeTable(w, format, job.Rows, job.Request)
}

func (h *Handlers) loadJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, codeJobNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal)
		return nil, false
	}
	return job, true
}

// decodeTableRequest validates the body shared by the sync and async
// endpoints and writes the error response itself.
func (h *Handlers) decodeTableRequest(w http.ResponseWriter, r *http.Request) (models.TableRequest, render.Format, bool) {
	var req models.TableRequest

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			h.respondError(w, http.StatusUnsupportedMediaType, codeInvalidBody)
			return req, "", false
		}
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &tooLarge):
			h.respondError(w, http.StatusRequestEntityTooLarge, codeBodyTooLarge)
		case errors.As(err, &typeErr) && strings.HasPrefix(typeErr.Field, "urls"):
			h.respondError(w, http.StatusBadRequest, codeNoURLs)
		case errors.As(err, &typeErr) && strings.HasPrefix(typeErr.Field, "fields"):
			h.respondError(w, http.StatusBadRequest, codeInvalidFields)
		default:
			h.respondError(w, http.StatusBadRequest, codeInvalidBody)
		}
		return req, "", false
	}

	req.URLs = cleanURLs(req.URLs)
	if len(req.URLs) == 0 {
		h.respondError(w, http.StatusBadRequest, codeNoURLs)
		return req, "", false
	}
	if h.maxURLs > 0 && len(req.URLs) > h.maxURLs {
		h.respondJSON(w, http.StatusBadRequest, map[string]any{
			"ok": false, "error": codeTooManyURLs, "max": h.maxURLs,
		})
		return req, "", false
	}

	format, ok := h.checkFormat(w, req.Format)
	if !ok {
		return req, "", false
	}
	return req, format, true
}

// checkFormat resolves the format and answers 501 for pdf, 400 for anything
// unknown.
func (h *Handlers) checkFormat(w http.ResponseWriter, raw string) (render.Format, bool) {
	format, err := render.ParseFormat(raw)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]any{
			"ok": false, "error": codeUnsupportedFormat, "format": raw,
		})
		return "", false
	}
	if format == render.FormatPDF {
		h.respondError(w, http.StatusNotImplemented, codePDFNotImplemented)
		return "", false
	}
	return format, true
}

func (h *Handlers) writeTable(w http.ResponseWriter, format render.Format, rows []models.ProductRecord, req models.TableRequest) {
	if format == render.FormatJSON {
		result := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			result = append(result, row.Project(req.Fields))
		}
		languages := req.Languages
		if languages == nil {
			languages = []string{}
		}
		h.respondJSON(w, http.StatusOK, tableResponse{
			OK:     true,
			Result: result,
			Meta: tableMeta{
				Format:    string(format),
				Fields:    models.SelectFields(req.Fields),
				Languages: languages,
			},
		})
		return
	}

	out, err := render.Render(format, rows, req.Fields)
	if err != nil {
		h.logger.Error("failed to render table", "format", format, "error", err)
		h.respondError(w, http.StatusInternalServerError, codeInternal)
		return
	}

	disposition := "inline"
	if format.Attachment() {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, out.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Body); err != nil {
		h.logger.Warn("failed to write table", "error", err)
	}
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, code string) {
	h.respondJSON(w, status, map[string]any{"ok": false, "error": code})
}
