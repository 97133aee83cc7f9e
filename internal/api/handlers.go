package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"resonate/internal/delivery"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/services"
	"resonate/internal/variant"
)

func (s *server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "source exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "read source: "+err.Error())
		return
	}
	asset, err := s.svc.CreateAsset(r.Context(), query.Get("kind"), query.Get("producer"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status, err := s.svc.GetAssetStatus(r.Context(), asset.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.assetResponse(status))
}

func (s *server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	var states []lifecycle.State
	for _, raw := range r.URL.Query()["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			state, ok := lifecycle.ParseState(value)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(value))
				return
			}
			states = append(states, state)
		}
	}
	list, err := s.svc.ListAssets(r.Context(), states...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := AssetListResponse{Assets: make([]AssetResponse, 0, len(list))}
	for _, status := range list {
		resp.Assets = append(resp.Assets, s.assetResponse(status))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.GetAssetStatus(r.Context(), assetID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.assetResponse(status))
}

func (s *server) handleFailures(w http.ResponseWriter, r *http.Request) {
	id := assetID(r)
	if _, err := s.svc.GetAssetStatus(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	failures, err := s.svc.Failures(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := FailureListResponse{Failures: make([]FailureResponse, 0, len(failures))}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, FailureResponse{
			JobID:    f.JobID,
			Attempt:  f.Attempt,
			Reason:   f.Reason,
			FailedAt: f.FailedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, s.svc.RequestProcessing)
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, s.svc.Retry)
}

func (s *server) enqueue(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*queue.EnqueueResult, error)) {
	id := assetID(r)
	res, err := fn(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		AssetID:    id,
		JobID:      res.Job.ID,
		Superseded: res.Superseded,
	})
}

func (s *server) handleApply(fn func(context.Context, string) (pipeline.AssetStatus, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := fn(r.Context(), assetID(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.assetResponse(status))
	}
}

func (s *server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "worker pool not running in this process")
		return
	}
	summary := s.status.Status(r.Context())
	resp := QueueResponse{
		Running:   summary.Running,
		Workers:   summary.Workers,
		Processed: summary.Processed,
		Failed:    summary.Failed,
		LastError: summary.LastError,
		Ready:     summary.Queue.Jobs.Ready,
		Delayed:   summary.Queue.Jobs.Delayed,
		Leased:    summary.Queue.Jobs.Leased,
		Expired:   summary.Queue.Jobs.Expired,
		Failures:  summary.Queue.Jobs.Failures,
		Assets:    make(map[string]int, len(summary.Queue.Assets)),
	}
	for state, count := range summary.Queue.Assets {
		resp.Assets[string(state)] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Healthy: true})
		return
	}
	health, err := s.health.CheckHealth(r.Context())
	resp := healthResponse(health)
	if err != nil {
		resp.Healthy = false
		if resp.Error == "" {
			resp.Error = err.Error()
		}
	}
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.links != nil {
		if err := s.links.Verify(r.URL.EscapedPath(), r.URL.Query()); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}
	data, spec, err := s.svc.Variant(r.Context(), assetID(r), chi.URLParam(r, "fileName"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", spec.Format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) assetResponse(status pipeline.AssetStatus) AssetResponse {
	resp := AssetResponse{AssetStatus: status}
	if s.links == nil || len(status.Manifest) == 0 {
		return resp
	}
	resp.URLs = s.links.Links(status.AssetID, status.Kind)
	resp.SrcSet = s.links.SrcSet(status.AssetID, status.Kind, variant.FormatWebP)
	return resp
}

// fail maps pipeline errors onto HTTP status codes.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, delivery.ErrBadSignature), errors.Is(err, delivery.ErrExpired):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func assetID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "assetID"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
