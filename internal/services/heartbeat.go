// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/license"
	"github.com/syncwell/syncd/internal/models"
)

const licenseCacheTTL = 30 * time.Second

// HeartbeatService ingests agent health events: it refreshes liveness on the
// binding ledger and appends the normalized observation to the heartbeat
// trail. Heartbeats never touch seat accounting, so license lookups on this
// hot path are served from a short-TTL cache; the binding writes themselves
// always hit the store.
type HeartbeatService struct {
	licenses   *models.LicenseStore
	bindings   *models.BindingStore
	heartbeats *models.HeartbeatStore
	cache      *ristretto.Cache
	clock      Clock
}

func NewHeartbeatService(licenses *models.LicenseStore, bindings *models.BindingStore, heartbeats *models.HeartbeatStore) (*HeartbeatService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create license cache: %w", err)
	}

	return &HeartbeatService{
		licenses:   licenses,
		bindings:   bindings,
		heartbeats: heartbeats,
		cache:      cache,
		clock:      systemClock{},
	}, nil
}

// HeartbeatInput is a raw health event as an agent sent it.
type HeartbeatInput struct {
	LicenseKey  string
	Fingerprint string
	Status      string
	EventType   string
	Message     string
	ErrorDetail *string
}

// Process records a heartbeat. A device aging in its grace period is
// reactivated by checking in again; a removed device is not.
func (s *HeartbeatService) Process(ctx context.Context, in HeartbeatInput) (*NormalizedEvent, error) {
	norm := Normalize(in.Status, in.EventType)
	return s.record(ctx, in, norm)
}

// ProcessOffline records a courtesy shutdown/sleep notice from an agent that
// is about to go dark. reason "sleep" maps to device_asleep, anything else to
// device_shutdown; both synthesize the asleep status.
func (s *HeartbeatService) ProcessOffline(ctx context.Context, in HeartbeatInput, reason string) (*NormalizedEvent, error) {
	norm := NormalizedEvent{Status: StatusAsleep, EventType: EventDeviceShutdown}
	if reason == "sleep" {
		norm.EventType = EventDeviceAsleep
	}
	return s.record(ctx, in, norm)
}

func (s *HeartbeatService) record(ctx context.Context, in HeartbeatInput, norm NormalizedEvent) (*NormalizedEvent, error) {
	if err := license.Validate(in.LicenseKey); err != nil {
		return nil, err
	}
	if in.Fingerprint == "" {
		return nil, fmt.Errorf("%w: device fingerprint is required", license.ErrInvalidFormat)
	}

	lic, err := s.resolveLicense(ctx, in.LicenseKey)
	if err != nil {
		return nil, err
	}
	if lic.Status != models.LicenseStatusActive {
		return nil, ErrLicenseInactive
	}

	binding, err := s.bindings.Get(ctx, lic.ID, in.Fingerprint)
	if err != nil {
		return nil, err
	}
	if binding.Status == models.DeviceStatusRemoved {
		return nil, models.ErrDeviceRemoved
	}

	if err := s.bindings.Touch(ctx, lic.ID, in.Fingerprint, s.clock.Now()); err != nil {
		if errors.Is(err, models.ErrDeviceNotBound) {
			// Removed by the sweeper between the read and the update.
			return nil, models.ErrDeviceRemoved
		}
		return nil, fmt.Errorf("failed to refresh liveness: %w", err)
	}

	hb := &models.Heartbeat{
		LicenseID:   lic.ID,
		Fingerprint: in.Fingerprint,
		Status:      norm.Status,
		EventType:   norm.EventType,
		Message:     in.Message,
		ErrorDetail: in.ErrorDetail,
	}
	if err := s.heartbeats.Append(ctx, hb); err != nil {
		return nil, fmt.Errorf("failed to append heartbeat: %w", err)
	}

	log.Trace().
		Str("licenseKey", maskLicenseKey(in.LicenseKey)).
		Str("fingerprint", in.Fingerprint).
		Str("status", norm.Status).
		Str("eventType", norm.EventType).
		Msg("Heartbeat recorded")

	return &norm, nil
}

func (s *HeartbeatService) resolveLicense(ctx context.Context, key string) (*models.License, error) {
	if cached, ok := s.cache.Get(key); ok {
		if lic, ok := cached.(*models.License); ok {
			return lic, nil
		}
	}

	lic, err := s.licenses.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	s.cache.SetWithTTL(key, lic, 1, licenseCacheTTL)
	return lic, nil
}
