// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrLicenseNotFound = errors.New("license not found")

const (
	LicenseStatusActive    = "active"
	LicenseStatusCanceled  = "canceled"
	LicenseStatusSuspended = "suspended"
)

type License struct {
	ID                   int       `json:"id"`
	Key                  string    `json:"key"`
	AccountID            int       `json:"accountId"`
	Status               string    `json:"status"`
	SeatLimit            int       `json:"seatLimit"`
	Tier                 string    `json:"tier"`
	NotificationsEnabled bool      `json:"notificationsEnabled"`
	NotifyEmail          *string   `json:"notifyEmail,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, license_key, account_id, status, seat_limit, tier, notifications_enabled, notify_email, created_at, updated_at`

func scanLicense(row *sql.Row) (*License, error) {
	l := &License{}
	err := row.Scan(
		&l.ID,
		&l.Key,
		&l.AccountID,
		&l.Status,
		&l.SeatLimit,
		&l.Tier,
		&l.NotificationsEnabled,
		&l.NotifyEmail,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *LicenseStore) GetByKey(ctx context.Context, key string) (*License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ?`, key)
	return scanLicense(row)
}

func (s *LicenseStore) GetByAccountID(ctx context.Context, accountID int) (*License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE account_id = ?`, accountID)
	return scanLicense(row)
}

// Create provisions a new license. Used for manual provisioning and by the
// subscription mirror when an account has no license yet.
func (s *LicenseStore) Create(ctx context.Context, key string, accountID, seatLimit int, tier string) (*License, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO licenses (license_key, account_id, status, seat_limit, tier)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+licenseColumns,
		key, accountID, LicenseStatusActive, seatLimit, tier)
	return scanLicense(row)
}

// UpsertForAccount creates the account's single license or updates its seat
// limit and tier in place. The unique index on account_id guarantees a second
// row can never appear, even under concurrent webhook deliveries. Seats and
// tier always follow the subscription; status only flips canceled -> active
// on a renewal, so a manually suspended license stays suspended through
// quantity updates.
func (s *LicenseStore) UpsertForAccount(ctx context.Context, key string, accountID, seatLimit int, tier string) (*License, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO licenses (license_key, account_id, status, seat_limit, tier)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			status = CASE WHEN licenses.status = ? THEN excluded.status ELSE licenses.status END,
			seat_limit = excluded.seat_limit,
			tier = excluded.tier,
			updated_at = CURRENT_TIMESTAMP
		RETURNING `+licenseColumns,
		key, accountID, LicenseStatusActive, seatLimit, tier, LicenseStatusCanceled)
	return scanLicense(row)
}

// Cancel sets the account's license to zero seats and canceled status.
// A no-op if the account has no license.
func (s *LicenseStore) Cancel(ctx context.Context, accountID int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET status = ?, seat_limit = 0, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ?`,
		LicenseStatusCanceled, accountID)
	if err != nil {
		return fmt.Errorf("failed to cancel license: %w", err)
	}
	return nil
}

func (s *LicenseStore) SetStatus(ctx context.Context, id int, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	return err
}

func (s *LicenseStore) SetNotifications(ctx context.Context, id int, enabled bool, email *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		SET notifications_enabled = ?, notify_email = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		enabled, email, id)
	return err
}
