package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/dataset"
	"github.com/Nabil-E-projet/MediNLP/internal/report"
	"github.com/Nabil-E-projet/MediNLP/internal/sampling"
	"github.com/Nabil-E-projet/MediNLP/internal/storage"
)

// ISO date layout of the JSON API.
const apiDateLayout = "2006-01-02"

type Handler struct {
	svc      Service
	export   bool
	maxCount int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandler builds the HTTP handler. When export is set, every created
// cohort is also written to the export sink. Requests above maxCount records
// are rejected; 0 means cohort.DefaultMaxRecordCount.
func NewHandler(svc Service, export bool, maxCount int, logger zerolog.Logger) *Handler {
	if maxCount <= 0 {
		maxCount = cohort.DefaultMaxRecordCount
	}
	return &Handler{svc: svc, export: export, maxCount: maxCount, logger: logger, now: time.Now}
}

type CreateCohortRequest struct {
	RecordCount int     `json:"record_count"`
	Seed        *uint64 `json:"seed"`
	// ReferenceDate is YYYY-MM-DD; empty means today.
	ReferenceDate string `json:"reference_date"`
}

type RunResponse struct {
	ID            uuid.UUID        `json:"id"`
	Seed          uint64           `json:"seed"`
	ReferenceDate string           `json:"reference_date"`
	RecordCount   int              `json:"record_count"`
	CreatedAt     time.Time        `json:"created_at"`
	Summary       *dataset.Summary `json:"summary,omitempty"`
}

func newRunResponse(run *cohort.Run, withSummary bool) RunResponse {
	resp := RunResponse{
		ID:            run.ID,
		Seed:          run.Seed,
		ReferenceDate: run.ReferenceDate.Format(apiDateLayout),
		RecordCount:   run.RecordCount,
		CreatedAt:     run.CreatedAt,
	}
	if withSummary {
		sum := dataset.Summarize(run.Records)
		resp.Summary = &sum
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sampling.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrNoFont):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) CreateCohort(w http.ResponseWriter, r *http.Request) {
	var req CreateCohortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.RecordCount < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "record_count must be positive"})
		return
	}
	if req.RecordCount > h.maxCount {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("record_count must not exceed %d", h.maxCount)})
		return
	}

	genReq := cohort.Request{Count: req.RecordCount}
	if req.Seed != nil {
		genReq.Seed = *req.Seed
	} else {
		genReq.Seed = uint64(h.now().UnixNano())
	}
	if req.ReferenceDate != "" {
		day, err := time.Parse(apiDateLayout, req.ReferenceDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reference_date must be YYYY-MM-DD"})
			return
		}
		genReq.Today = day
	}

	run, err := h.svc.CreateCohort(r.Context(), genReq, CreateOptions{Persist: true, Export: h.export})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/cohorts/"+run.ID.String())
	writeJSON(w, http.StatusCreated, newRunResponse(run, true))
}

func (h *Handler) ListCohorts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.svc.ListCohorts(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, newRunResponse(&runs[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*cohort.Run, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid cohort id"})
		return nil, false
	}
	run, err := h.svc.GetCohort(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return run, true
}

func (h *Handler) GetCohort(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run, true))
}

func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := dataset.WriteCSV(&buf, run.Records); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cohort_%s.csv"`, run.ID))
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	pdf, err := h.svc.Report(r.Context(), run, ReportOptions{})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, report.FileName(run)))
	_, _ = w.Write(pdf)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/cohorts", h.CreateCohort)
	r.Get("/cohorts", h.ListCohorts)
	r.Get("/cohorts/{id}", h.GetCohort)
	r.Get("/cohorts/{id}/dataset.csv", h.GetDataset)
	r.Get("/cohorts/{id}/report.pdf", h.GetReport)
}
