package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/compatscan/internal/engine"
	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/store"
	"github.com/seantiz/compatscan/internal/workspace"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	// Archives travel base64-encoded in the body.
	maxBodySize = 64 << 20 // 64 MB
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	Kind      string   `json:"kind"`
	RemoteURL string   `json:"remoteUrl"`
	Ref       string   `json:"ref"`
	Archive   []byte   `json:"archive"`
	LocalPath string   `json:"localPath"`
	Targets   []string `json:"targets"`
	Exclude   []string `json:"exclude"`
}

type createJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// jobView is the public shape of a job; payload and result are left out.
type jobView struct {
	JobID           string     `json:"jobId"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Step            string     `json:"step,omitempty"`
	CancelRequested bool       `json:"cancelRequested"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

func newJobView(j *model.Job) jobView {
	return jobView{
		JobID:           j.ID,
		Kind:            j.Kind,
		Status:          j.Status,
		Progress:        j.Progress,
		Step:            j.Step,
		CancelRequested: j.CancelRequested,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []jobView `json:"jobs"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// pendingResultResponse is returned with 202 while a job is unfinished.
type pendingResultResponse struct {
	Ready    bool   `json:"ready"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type failedResultResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type cancelledResultResponse struct {
	Status    string `json:"status"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type cancelResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		req.Kind = model.KindScan
	}
	if req.Kind != model.KindScan && req.Kind != model.KindApply {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job kind %q", req.Kind))
		return
	}

	payload := model.Payload{
		RemoteURL: req.RemoteURL,
		Ref:       req.Ref,
		Archive:   req.Archive,
		LocalPath: req.LocalPath,
		Targets:   req.Targets,
		Exclude:   req.Exclude,
	}
	if payload.Sources() != 1 {
		s.writeError(w, http.StatusBadRequest, workspace.ErrNoSource.Error())
		return
	}
	for _, t := range payload.Targets {
		if !s.browsers[t] {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown browser target %q", t))
			return
		}
	}

	job, err := s.sched.CreateJob(r.Context(), req.Kind, payload)
	if errors.Is(err, engine.ErrShuttingDown) {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if err != nil {
		s.logger.Error("create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: job.Status})
}

// lookupJob fetches the job named in the URL, writing a 404 or 500 when it
// cannot be returned.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id := chi.URLParam(r, "id")

	job, err := s.sched.Store().Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return job, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	switch job.Status {
	case model.StatusDone:
		s.writeJSON(w, http.StatusOK, job.Result)
	case model.StatusFailed:
		s.writeJSON(w, http.StatusOK, failedResultResponse{Status: job.Status, Error: job.Error})
	case model.StatusCancelled:
		resp := cancelledResultResponse{Status: job.Status, Cancelled: true, Reason: job.CancelReason}
		if job.Result != nil && job.Result.Reason != "" {
			resp.Reason = job.Result.Reason
		}
		s.writeJSON(w, http.StatusOK, resp)
	default:
		s.writeJSON(w, http.StatusAccepted, pendingResultResponse{
			Ready:    false,
			Status:   job.Status,
			Progress: job.Progress,
		})
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total := s.sched.Store().List(limit, offset)

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   views,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The body is optional.
	var req cancelRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.sched.CancelJob(r.Context(), id, req.Reason)
	if err != nil {
		s.logger.Error("cancel job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	switch {
	case !out.Found:
		s.writeError(w, http.StatusNotFound, "job not found")
	case !out.Changed:
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job already finished",
			"status": out.Status,
		})
	default:
		s.writeJSON(w, http.StatusAccepted, cancelResponse{JobID: id, Status: out.Status})
	}
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.sched.RemoveJob(r.Context(), id) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
