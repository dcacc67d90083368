package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

type standardJobRequest struct {
	Name string `json:"name"`
}

type customJobRequest struct {
	URLs []string          `json:"urls"`
	Mode discovery.Mode    `json:"mode"`
	Tags map[string]string `json:"tags"`
}

func (s *Server) submitCustomJob(w http.ResponseWriter, r *http.Request) {
	var req customJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, params)
}

func (s *Server) submitStandardJob(w http.ResponseWriter, r *http.Request) {
	var req standardJobRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}
	template, ok := s.cfg.StandardJobs[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard job template not found")
		return
	}
	params := s.applyDefaults(cloneJobParameters(template))
	params.Tags["standard_job"] = req.Name
	s.submit(w, r, params)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, params discovery.JobParameters) {
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		case errors.Is(err, discovery.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("job submission failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	pages, err := s.jobStore.ListPages(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch job pages")
		return
	}
	writeJSON(w, http.StatusOK, discovery.JobResult{Job: job, Pages: pages})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		discovery.JobStatusCanceled,
		"canceled via API",
		job.Counters,
	); err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(discovery.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, params discovery.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := discovery.Job{
		ID:         jobID,
		Status:     discovery.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   discovery.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout())
	defer cancel()
	item := discovery.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if updateErr := s.jobStore.UpdateJobStatus(
			context.WithoutCancel(ctx), jobID, discovery.JobStatusFailed, "enqueue failed", discovery.JobCounters{},
		); updateErr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req customJobRequest) (discovery.JobParameters, error) {
	if len(req.URLs) == 0 {
		return discovery.JobParameters{}, errors.New("urls required")
	}
	if limit := s.cfg.Jobs.MaxURLs; limit > 0 && len(req.URLs) > limit {
		return discovery.JobParameters{}, fmt.Errorf("at most %d urls per job", limit)
	}
	for _, u := range req.URLs {
		if err := validateAbsoluteURL(u); err != nil {
			return discovery.JobParameters{}, fmt.Errorf("%s: %w", u, err)
		}
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return discovery.JobParameters{}, errors.New("mode must be html or json")
	}
	params := discovery.JobParameters{
		URLs: slices.Clone(req.URLs),
		Mode: req.Mode,
		Tags: req.Tags,
	}
	return s.applyDefaults(params), nil
}

func (s *Server) applyDefaults(params discovery.JobParameters) discovery.JobParameters {
	if params.Mode == "" {
		params.Mode = discovery.ModeHTML
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

func cloneJobParameters(src discovery.JobParameters) discovery.JobParameters {
	cp := src
	cp.URLs = slices.Clone(src.URLs)
	if src.Tags != nil {
		cp.Tags = maps.Clone(src.Tags)
	}
	return cp
}
