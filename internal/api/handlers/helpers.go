// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/license"
	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/services"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{
		"error": message,
	})
}

// DecodeNormalized decodes a JSON body while tolerating the field casing of
// older agent generations: for each canonical camelCase field name, any key
// matching it case-insensitively with underscores stripped is accepted
// (licenseKey, LicenseKey, license_key...). The core services only ever see
// canonical names.
func DecodeNormalized(r *http.Request, dst any, fields []string) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}

	canonical := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		canonical[foldFieldName(key)] = value
	}

	normalized := make(map[string]json.RawMessage, len(fields))
	for _, field := range fields {
		if value, ok := canonical[foldFieldName(field)]; ok {
			normalized[field] = value
		}
	}

	buf, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

func foldFieldName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// RespondServiceError maps core errors onto stable machine-checkable JSON
// error responses.
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, license.ErrInvalidFormat):
		RespondError(w, http.StatusBadRequest, "Invalid license key format")
	case errors.Is(err, models.ErrLicenseNotFound):
		RespondError(w, http.StatusUnauthorized, "License not found")
	case errors.Is(err, services.ErrLicenseInactive):
		RespondError(w, http.StatusForbidden, "License is not active")
	case errors.Is(err, models.ErrDeviceRemoved):
		RespondError(w, http.StatusForbidden, "Device removed")
	case errors.Is(err, models.ErrDeviceNotBound):
		RespondError(w, http.StatusForbidden, "Device not bound")
	case errors.Is(err, services.ErrSeatLimitReached):
		RespondError(w, http.StatusBadRequest, "Seat limit reached")
	default:
		log.Error().Err(err).Msg("Request failed")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// maskLicenseKey masks a license key for logging (shows first 8 chars + ***)
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
