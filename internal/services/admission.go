// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/license"
	"github.com/syncwell/syncd/internal/models"
)

var (
	ErrLicenseInactive  = errors.New("license is not active")
	ErrSeatLimitReached = errors.New("seat limit reached")
)

// AdmissionService decides whether an agent may bind a device to a license.
// It owns the seat-accounting rule: only active bindings count against the
// seat limit; grace-period devices keep their seat reserved through the
// refresh path but do not block a new bind.
type AdmissionService struct {
	licenses *models.LicenseStore
	bindings *models.BindingStore
	audit    *models.AuditStore
	clock    Clock
}

func NewAdmissionService(licenses *models.LicenseStore, bindings *models.BindingStore, audit *models.AuditStore) *AdmissionService {
	return &AdmissionService{
		licenses: licenses,
		bindings: bindings,
		audit:    audit,
		clock:    systemClock{},
	}
}

// BindResult reports the outcome of a successful bind.
type BindResult struct {
	Binding *models.DeviceBinding
	Created bool
}

// Bind admits a device onto a license, creating a new binding when a seat is
// free or refreshing the existing one. A removed binding is terminal and is
// never resurrected here.
func (s *AdmissionService) Bind(ctx context.Context, licenseKey, fingerprint, name string) (*BindResult, error) {
	if err := license.Validate(licenseKey); err != nil {
		return nil, err
	}
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: device fingerprint is required", license.ErrInvalidFormat)
	}
	if name == "" {
		name = fingerprint
	}

	lic, err := s.licenses.GetByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	if lic.Status != models.LicenseStatusActive {
		return nil, ErrLicenseInactive
	}

	now := s.clock.Now()

	existing, err := s.bindings.Get(ctx, lic.ID, fingerprint)
	switch {
	case err == nil:
		if existing.Status == models.DeviceStatusRemoved {
			return nil, models.ErrDeviceRemoved
		}
		return s.refresh(ctx, lic, fingerprint, name, now)

	case errors.Is(err, models.ErrDeviceNotBound):
		binding, created, err := s.bindings.InsertIfCapacity(ctx, lic.ID, fingerprint, name, lic.SeatLimit, now)
		if errors.Is(err, models.ErrDeviceAlreadyBound) {
			// Lost a first-bind race against the same device: its row now
			// exists, so this bind degrades to a refresh.
			return s.refresh(ctx, lic, fingerprint, name, now)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create binding: %w", err)
		}
		if !created {
			return nil, ErrSeatLimitReached
		}

		if err := s.audit.Append(ctx, lic.ID, fingerprint, models.AuditDeviceRegistered,
			fmt.Sprintf("device %q registered", name)); err != nil {
			log.Error().Err(err).Str("fingerprint", fingerprint).Msg("Failed to write audit entry for new binding")
		}

		log.Info().
			Str("licenseKey", maskLicenseKey(licenseKey)).
			Str("fingerprint", fingerprint).
			Msg("Device bound")

		return &BindResult{Binding: binding, Created: true}, nil

	default:
		return nil, err
	}
}

// refresh re-admits an already-bound device, bumping its liveness and
// clearing any grace state. Refusal means the row is removed.
func (s *AdmissionService) refresh(ctx context.Context, lic *models.License, fingerprint, name string, now time.Time) (*BindResult, error) {
	refreshed, err := s.bindings.Refresh(ctx, lic.ID, fingerprint, name, now)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh binding: %w", err)
	}
	if !refreshed {
		return nil, models.ErrDeviceRemoved
	}

	binding, err := s.bindings.Get(ctx, lic.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	return &BindResult{Binding: binding}, nil
}

// Remove is the manual removal path behind the management API. Removing a
// device that is already removed (or was never bound) is a no-op success.
func (s *AdmissionService) Remove(ctx context.Context, licenseKey, fingerprint string) error {
	if err := license.Validate(licenseKey); err != nil {
		return err
	}

	lic, err := s.licenses.GetByKey(ctx, licenseKey)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			return nil
		}
		return err
	}

	binding, err := s.bindings.Get(ctx, lic.ID, fingerprint)
	if err != nil {
		if errors.Is(err, models.ErrDeviceNotBound) {
			return nil
		}
		return err
	}

	removed, err := s.bindings.MarkRemoved(ctx, binding.ID)
	if err != nil {
		return fmt.Errorf("failed to remove binding: %w", err)
	}
	if !removed {
		return nil
	}

	if err := s.audit.Append(ctx, lic.ID, fingerprint, models.AuditDeviceRemoved, "device removed manually"); err != nil {
		log.Error().Err(err).Str("fingerprint", fingerprint).Msg("Failed to write audit entry for manual removal")
	}

	log.Info().
		Str("licenseKey", maskLicenseKey(licenseKey)).
		Str("fingerprint", fingerprint).
		Msg("Device removed")

	return nil
}
