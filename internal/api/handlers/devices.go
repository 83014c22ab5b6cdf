// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/services"
)

// OnlineWindow is how recently a device must have checked in to be shown as
// Online in device listings.
const OnlineWindow = 5 * time.Minute

// DevicesHandler serves the device management endpoints used by the
// dashboard and support tooling.
type DevicesHandler struct {
	licenses   *models.LicenseStore
	bindings   *models.BindingStore
	heartbeats *models.HeartbeatStore
	audit      *models.AuditStore
	admission  *services.AdmissionService
}

func NewDevicesHandler(
	licenses *models.LicenseStore,
	bindings *models.BindingStore,
	heartbeats *models.HeartbeatStore,
	audit *models.AuditStore,
	admission *services.AdmissionService,
) *DevicesHandler {
	return &DevicesHandler{
		licenses:   licenses,
		bindings:   bindings,
		heartbeats: heartbeats,
		audit:      audit,
		admission:  admission,
	}
}

// RegisterRoutes registers the device management routes
func (h *DevicesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/devices/{licenseKey}", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Get("/log", h.GetAuditLog)
		r.Route("/{deviceHash}", func(r chi.Router) {
			r.Delete("/", h.RemoveDevice)
			r.Get("/heartbeats", h.GetHeartbeats)
		})
	})
}

// DeviceInfo is one row of a device listing with its derived connection
// status.
type DeviceInfo struct {
	ID               int        `json:"id"`
	Fingerprint      string     `json:"fingerprint"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	ConnectionStatus string     `json:"connectionStatus"`
	BoundAt          time.Time  `json:"boundAt"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
	GraceSince       *time.Time `json:"graceSince,omitempty"`
}

// ListDevicesResponse wraps a device listing with seat accounting.
type ListDevicesResponse struct {
	Devices   []DeviceInfo `json:"devices"`
	SeatLimit int          `json:"seatLimit"`
	SeatsUsed int          `json:"seatsUsed"`
}

// ListDevices lists a license's bindings. An unknown license yields an empty
// listing, not an error, to keep dashboards simple.
func (h *DevicesHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	licenseKey := chi.URLParam(r, "licenseKey")
	search := r.URL.Query().Get("search")

	lic, err := h.licenses.GetByKey(r.Context(), licenseKey)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondJSON(w, http.StatusOK, ListDevicesResponse{Devices: []DeviceInfo{}})
			return
		}
		RespondServiceError(w, err)
		return
	}

	bindings, err := h.bindings.ListByLicense(r.Context(), lic.ID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}

	now := time.Now()
	resp := ListDevicesResponse{Devices: []DeviceInfo{}, SeatLimit: lic.SeatLimit}
	for _, b := range bindings {
		if b.Status == models.DeviceStatusActive {
			resp.SeatsUsed++
		}
		if search != "" && !fuzzy.MatchFold(search, b.Name) {
			continue
		}
		resp.Devices = append(resp.Devices, DeviceInfo{
			ID:               b.ID,
			Fingerprint:      b.Fingerprint,
			Name:             b.Name,
			Status:           b.Status,
			ConnectionStatus: connectionStatus(b, now),
			BoundAt:          b.BoundAt,
			LastSeenAt:       b.LastSeenAt,
			GraceSince:       b.GracePeriodStartedAt,
		})
	}

	RespondJSON(w, http.StatusOK, resp)
}

func connectionStatus(b *models.DeviceBinding, now time.Time) string {
	switch b.Status {
	case models.DeviceStatusRemoved:
		return "Removed"
	case models.DeviceStatusGracePeriod:
		return "Grace Period"
	default:
		if now.Sub(b.LastSeenAt) <= OnlineWindow {
			return "Online"
		}
		return "Offline"
	}
}

// RemoveDevice manually removes a binding. Idempotent: removing an unknown
// or already-removed device succeeds.
func (h *DevicesHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	licenseKey := chi.URLParam(r, "licenseKey")
	deviceHash := chi.URLParam(r, "deviceHash")

	if err := h.admission.Remove(r.Context(), licenseKey, deviceHash); err != nil {
		RespondServiceError(w, err)
		return
	}

	log.Info().
		Str("licenseKey", maskLicenseKey(licenseKey)).
		Str("deviceHash", deviceHash).
		Msg("Manual device removal")

	RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetHeartbeats returns the recent heartbeat trail for one device.
func (h *DevicesHandler) GetHeartbeats(w http.ResponseWriter, r *http.Request) {
	licenseKey := chi.URLParam(r, "licenseKey")
	deviceHash := chi.URLParam(r, "deviceHash")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	lic, err := h.licenses.GetByKey(r.Context(), licenseKey)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondJSON(w, http.StatusOK, map[string]any{"heartbeats": []*models.Heartbeat{}})
			return
		}
		RespondServiceError(w, err)
		return
	}

	beats, err := h.heartbeats.ListRecent(r.Context(), lic.ID, deviceHash, limit)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	if beats == nil {
		beats = []*models.Heartbeat{}
	}

	RespondJSON(w, http.StatusOK, map[string]any{"heartbeats": beats})
}

// GetAuditLog returns the license's device management log.
func (h *DevicesHandler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	licenseKey := chi.URLParam(r, "licenseKey")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	lic, err := h.licenses.GetByKey(r.Context(), licenseKey)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondJSON(w, http.StatusOK, map[string]any{"entries": []*models.AuditEntry{}})
			return
		}
		RespondServiceError(w, err)
		return
	}

	entries, err := h.audit.ListByLicense(r.Context(), lic.ID, limit)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
