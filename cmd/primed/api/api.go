// Package api implements the HTTP handlers for the primed control surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/logger"
	"github.com/primectl/primed/lib/watch"
)

// ApiService holds the handlers' dependencies.
type ApiService struct {
	GPUManager gpu.Manager
	Watcher    watch.Watcher
	Resolver   helpers.Resolver
}

// New creates the API service.
func New(mgr gpu.Manager, w watch.Watcher, resolver helpers.Resolver) *ApiService {
	return &ApiService{
		GPUManager: mgr,
		Watcher:    w,
		Resolver:   resolver,
	}
}

// ErrorResponse is the JSON body for all error replies.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResponse is the JSON body for GET /v1/gpu.
type StatusResponse struct {
	Active    gpu.GPU                 `json:"active"`
	Selection string                  `json:"selection"`
	Helpers   map[helpers.Role]string `json:"helpers"`
}

// SwitchRequest is the JSON body for POST /v1/gpu/switch.
type SwitchRequest struct {
	GPU string `json:"gpu"`
}

// SwitchResponse acknowledges an accepted switch.
type SwitchResponse struct {
	Id  string  `json:"id"`
	GPU gpu.GPU `json:"gpu"`
}

// GetHealth implements the health check endpoint.
func (s *ApiService) GetHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetGPU reports the active GPU, the persisted selection, and the resolved
// helper table.
func (s *ApiService) GetGPU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	respondJSON(w, http.StatusOK, StatusResponse{
		Active:    s.GPUManager.Active(ctx),
		Selection: s.GPUManager.Selection(ctx),
		Helpers:   s.Resolver.Installed(),
	})
}

// SwitchGPU launches a GPU switch. The reply acknowledges the launch only;
// the switch itself completes in the background.
func (s *ApiService) SwitchGPU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    "invalid_body",
			Message: err.Error(),
		})
		return
	}

	target, err := gpu.Parse(req.GPU)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    "invalid_gpu",
			Message: err.Error(),
		})
		return
	}

	id, _, err := s.GPUManager.Switch(ctx, target)
	if err != nil {
		switch {
		case errors.Is(err, gpu.ErrAlreadySelected):
			respondJSON(w, http.StatusConflict, ErrorResponse{
				Code:    "already_selected",
				Message: err.Error(),
			})
		case errors.Is(err, gpu.ErrHelperMissing):
			respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Code:    "helper_missing",
				Message: err.Error(),
			})
		default:
			respondJSON(w, http.StatusInternalServerError, ErrorResponse{
				Code:    "internal_error",
				Message: err.Error(),
			})
		}
		return
	}

	respondJSON(w, http.StatusAccepted, SwitchResponse{Id: id, GPU: target})
}

// LaunchSettings opens the vendor settings UI on the host.
func (s *ApiService) LaunchSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.GPUManager.OpenSettings(r.Context()); err != nil {
		if errors.Is(err, gpu.ErrHelperMissing) {
			respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Code:    "helper_missing",
				Message: err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:    "internal_error",
			Message: err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events streams gpu-change notifications as Server-Sent Events until the
// client disconnects.
func (s *ApiService) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Code:    "streaming_unsupported",
			Message: "response writer does not support streaming",
		})
		return
	}

	events, cancel := s.Watcher.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.FromContext(ctx).ErrorContext(ctx, "marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: gpu-change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
