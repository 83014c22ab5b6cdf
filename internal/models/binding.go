// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDeviceNotBound     = errors.New("device not bound")
	ErrDeviceRemoved      = errors.New("device removed")
	ErrDeviceAlreadyBound = errors.New("device already bound")
)

const (
	DeviceStatusActive      = "active"
	DeviceStatusGracePeriod = "grace_period"
	DeviceStatusRemoved     = "removed"
)

// DeviceBinding is one row of the binding ledger: a single (license, device)
// pair and its lifecycle state. removed is terminal; only an explicit bind
// after manual reactivation may create a fresh binding.
type DeviceBinding struct {
	ID                   int        `json:"id"`
	LicenseID            int        `json:"licenseId"`
	Fingerprint          string     `json:"fingerprint"`
	Name                 string     `json:"name"`
	Status               string     `json:"status"`
	BoundAt              time.Time  `json:"boundAt"`
	LastSeenAt           time.Time  `json:"lastSeenAt"`
	GracePeriodStartedAt *time.Time `json:"gracePeriodStartedAt,omitempty"`
	GraceNotifiedAt      *time.Time `json:"-"`
	CleanupNotifiedAt    *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type BindingStore struct {
	db *sql.DB
}

func NewBindingStore(db *sql.DB) *BindingStore {
	return &BindingStore{db: db}
}

const bindingColumns = `id, license_id, fingerprint, name, status, bound_at, last_seen_at,
	grace_period_started_at, grace_notified_at, cleanup_notified_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (*DeviceBinding, error) {
	b := &DeviceBinding{}
	err := row.Scan(
		&b.ID,
		&b.LicenseID,
		&b.Fingerprint,
		&b.Name,
		&b.Status,
		&b.BoundAt,
		&b.LastSeenAt,
		&b.GracePeriodStartedAt,
		&b.GraceNotifiedAt,
		&b.CleanupNotifiedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotBound
		}
		return nil, err
	}
	return b, nil
}

func (s *BindingStore) Get(ctx context.Context, licenseID int, fingerprint string) (*DeviceBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM device_bindings WHERE license_id = ? AND fingerprint = ?`,
		licenseID, fingerprint)
	return scanBinding(row)
}

func (s *BindingStore) ListByLicense(ctx context.Context, licenseID int) ([]*DeviceBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM device_bindings WHERE license_id = ? ORDER BY bound_at`,
		licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []*DeviceBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (s *BindingStore) CountActive(ctx context.Context, licenseID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_bindings WHERE license_id = ? AND status = ?`,
		licenseID, DeviceStatusActive).Scan(&count)
	return count, err
}

// Refresh is the idempotent re-bind path: bump last-seen, update the display
// name, clear any grace state and force active. The status guard keeps a
// removed binding terminal.
func (s *BindingStore) Refresh(ctx context.Context, licenseID int, fingerprint, name string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings
		SET name = ?, status = ?, last_seen_at = ?, grace_period_started_at = NULL,
		    grace_notified_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE license_id = ? AND fingerprint = ? AND status != ?`,
		name, DeviceStatusActive, now, licenseID, fingerprint, DeviceStatusRemoved)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Touch bumps last-seen and reactivates a grace-period device in one
// conditional update. Returns ErrDeviceNotBound if no non-removed row matched.
func (s *BindingStore) Touch(ctx context.Context, licenseID int, fingerprint string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings
		SET last_seen_at = ?, status = ?, grace_period_started_at = NULL,
		    grace_notified_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE license_id = ? AND fingerprint = ? AND status IN (?, ?)`,
		now, DeviceStatusActive, licenseID, fingerprint,
		DeviceStatusActive, DeviceStatusGracePeriod)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceNotBound
	}
	return nil
}

// MarkGrace transitions active -> grace_period, but only if the row is still
// active with no grace start. A concurrent heartbeat that already reactivated
// the device makes this a no-op.
func (s *BindingStore) MarkGrace(ctx context.Context, bindingID int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings
		SET status = ?, grace_period_started_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND grace_period_started_at IS NULL`,
		DeviceStatusGracePeriod, now, bindingID, DeviceStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRemoved transitions a live binding to removed. Conditional on the
// current status so it cannot resurrect an already-removed row.
func (s *BindingStore) MarkRemoved(ctx context.Context, bindingID int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings
		SET status = ?, grace_period_started_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)`,
		DeviceStatusRemoved, bindingID, DeviceStatusActive, DeviceStatusGracePeriod)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetGraceNotified records the one-shot grace notification timestamp.
func (s *BindingStore) SetGraceNotified(ctx context.Context, bindingID int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings SET grace_notified_at = ? WHERE id = ? AND grace_notified_at IS NULL`,
		now, bindingID)
	return err
}

// ClaimCleanupNotification atomically claims the one-shot cleanup
// notification. Exactly one of any number of concurrent sweeps wins the claim,
// so the "device removed" mail goes out at most once per binding.
func (s *BindingStore) ClaimCleanupNotification(ctx context.Context, bindingID int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device_bindings SET cleanup_notified_at = ? WHERE id = ? AND cleanup_notified_at IS NULL`,
		now, bindingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SweepCandidate is a binding joined with the owning license fields the
// sweeper needs to decide transitions and notifications.
type SweepCandidate struct {
	Binding              DeviceBinding
	LicenseKey           string
	NotificationsEnabled bool
	NotifyEmail          *string
}

// ListSweepCandidates returns bindings on active licenses whose last-seen is
// older than the cutoff and whose status is still live.
func (s *BindingStore) ListSweepCandidates(ctx context.Context, cutoff time.Time) ([]*SweepCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.license_id, b.fingerprint, b.name, b.status, b.bound_at, b.last_seen_at,
		       b.grace_period_started_at, b.grace_notified_at, b.cleanup_notified_at,
		       b.created_at, b.updated_at,
		       l.license_key, l.notifications_enabled, l.notify_email
		FROM device_bindings b
		JOIN licenses l ON l.id = b.license_id
		WHERE l.status = ?
		  AND b.status IN (?, ?)
		  AND b.last_seen_at < ?
		ORDER BY b.last_seen_at`,
		LicenseStatusActive, DeviceStatusActive, DeviceStatusGracePeriod, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*SweepCandidate
	for rows.Next() {
		c := &SweepCandidate{}
		b := &c.Binding
		if err := rows.Scan(
			&b.ID, &b.LicenseID, &b.Fingerprint, &b.Name, &b.Status, &b.BoundAt, &b.LastSeenAt,
			&b.GracePeriodStartedAt, &b.GraceNotifiedAt, &b.CleanupNotifiedAt,
			&b.CreatedAt, &b.UpdatedAt,
			&c.LicenseKey, &c.NotificationsEnabled, &c.NotifyEmail,
		); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// InsertIfCapacity creates a new active binding only while the license still
// has a free seat. The seat count and the insert run as one statement, so
// concurrent first-time binds cannot jointly exceed the seat limit. Returns
// false when the limit is already reached.
func (s *BindingStore) InsertIfCapacity(ctx context.Context, licenseID int, fingerprint, name string, seatLimit int, now time.Time) (*DeviceBinding, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO device_bindings (license_id, fingerprint, name, status, bound_at, last_seen_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM device_bindings WHERE license_id = ? AND status = ?) < ?
		RETURNING `+bindingColumns,
		licenseID, fingerprint, name, DeviceStatusActive, now, now,
		licenseID, DeviceStatusActive, seatLimit)

	b, err := scanBinding(row)
	if err != nil {
		if errors.Is(err, ErrDeviceNotBound) {
			// No row inserted: the capacity predicate failed.
			return nil, false, nil
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// The same fingerprint bound concurrently.
			return nil, false, ErrDeviceAlreadyBound
		}
		return nil, false, err
	}
	return b, true, nil
}
