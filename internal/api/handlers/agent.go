// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/services"
)

// AgentHandler serves the endpoints installed agents call: bind and the two
// heartbeat variants.
type AgentHandler struct {
	admission  *services.AdmissionService
	heartbeats *services.HeartbeatService
}

func NewAgentHandler(admission *services.AdmissionService, heartbeats *services.HeartbeatService) *AgentHandler {
	return &AgentHandler{
		admission:  admission,
		heartbeats: heartbeats,
	}
}

// RegisterRoutes registers the agent-facing routes
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/bind", h.Bind)
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/heartbeat/offline", h.HeartbeatOffline)
}

// BindRequest is the agent's bind payload (canonical field names; casing
// variants are normalized at decode time).
type BindRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceHash string `json:"deviceHash"`
	DeviceName string `json:"deviceName"`
}

// BindResponse is returned on a successful bind or refresh.
type BindResponse struct {
	Success  bool `json:"success"`
	DeviceID int  `json:"deviceId"`
	Created  bool `json:"created"`
}

// Bind admits a device onto a license
func (h *AgentHandler) Bind(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if err := DecodeNormalized(r, &req, []string{"licenseKey", "deviceHash", "deviceName"}); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.LicenseKey == "" || req.DeviceHash == "" {
		RespondError(w, http.StatusBadRequest, "licenseKey and deviceHash are required")
		return
	}

	result, err := h.admission.Bind(r.Context(), req.LicenseKey, req.DeviceHash, req.DeviceName)
	if err != nil {
		RespondServiceError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, BindResponse{
		Success:  true,
		DeviceID: result.Binding.ID,
		Created:  result.Created,
	})
}

// HeartbeatRequest is the agent's health report payload.
type HeartbeatRequest struct {
	LicenseKey  string  `json:"licenseKey"`
	DeviceHash  string  `json:"deviceHash"`
	Status      string  `json:"status"`
	EventType   string  `json:"eventType"`
	Message     string  `json:"message"`
	ErrorDetail *string `json:"errorDetail"`
	Reason      string  `json:"reason"`
}

// HeartbeatResponse reports the normalized observation.
type HeartbeatResponse struct {
	OK         bool                     `json:"ok"`
	Normalized services.NormalizedEvent `json:"normalized"`
}

// Heartbeat records a health observation and refreshes device liveness
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHeartbeat(w, r)
	if !ok {
		return
	}

	norm, err := h.heartbeats.Process(r.Context(), services.HeartbeatInput{
		LicenseKey:  req.LicenseKey,
		Fingerprint: req.DeviceHash,
		Status:      req.Status,
		EventType:   req.EventType,
		Message:     req.Message,
		ErrorDetail: req.ErrorDetail,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, HeartbeatResponse{OK: true, Normalized: *norm})
}

// HeartbeatOffline records a courtesy notice from an agent going dark
func (h *AgentHandler) HeartbeatOffline(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHeartbeat(w, r)
	if !ok {
		return
	}

	norm, err := h.heartbeats.ProcessOffline(r.Context(), services.HeartbeatInput{
		LicenseKey:  req.LicenseKey,
		Fingerprint: req.DeviceHash,
		Message:     req.Message,
		ErrorDetail: req.ErrorDetail,
	}, req.Reason)
	if err != nil {
		RespondServiceError(w, err)
		return
	}

	log.Trace().
		Str("licenseKey", maskLicenseKey(req.LicenseKey)).
		Str("reason", req.Reason).
		Msg("Offline notice recorded")

	RespondJSON(w, http.StatusOK, HeartbeatResponse{OK: true, Normalized: *norm})
}

func (h *AgentHandler) decodeHeartbeat(w http.ResponseWriter, r *http.Request) (*HeartbeatRequest, bool) {
	var req HeartbeatRequest
	err := DecodeNormalized(r, &req, []string{
		"licenseKey", "deviceHash", "status", "eventType", "message", "errorDetail", "reason",
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}

	if req.LicenseKey == "" || req.DeviceHash == "" {
		RespondError(w, http.StatusBadRequest, "licenseKey and deviceHash are required")
		return nil, false
	}

	return &req, true
}
