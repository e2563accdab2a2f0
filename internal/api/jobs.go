package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/queue"
	"github.com/JakeFAU/site-evaluator/internal/store"
)

// JobService queues evaluations for background processing.
type JobService interface {
	Submit(ctx context.Context, kind store.RunKind, req crawler.Request) (uuid.UUID, error)
}

type jobRequest struct {
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	MaxDepth    *int   `json:"max_depth"`
	MaxSubpages *int   `json:"max_subpages"`
}

type jobResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}
	var req jobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	crawlReq := crawler.Request{URL: req.URL}
	if store.RunKind(req.Kind) == store.KindSite {
		crawlReq.MaxDepth = valueOrDefault(req.MaxDepth, s.cfg.DefaultMaxDepth)
		crawlReq.MaxSubpages = valueOrDefault(req.MaxSubpages, s.cfg.DefaultMaxSubpages)
	}
	runID, err := s.jobs.Submit(r.Context(), store.RunKind(req.Kind), crawlReq)
	switch {
	case err == nil:
	case errors.Is(err, evaluation.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("submit job failed", zap.String("kind", req.Kind), zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Location", "/v1/runs/"+runID.String())
	writeJSON(w, http.StatusAccepted, jobResponse{RunID: runID.String(), Status: string(store.RunQueued)})
}
