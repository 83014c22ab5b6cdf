// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"
)

const (
	AuditDeviceRegistered   = "device_registered"
	AuditDeviceRemoved      = "device_removed"
	AuditGracePeriodStarted = "grace_period_started"
	AuditAutoCleanup        = "auto_cleanup"
)

type AuditEntry struct {
	ID          int       `json:"id"`
	LicenseID   int       `json:"licenseId"`
	Fingerprint string    `json:"fingerprint"`
	Action      string    `json:"action"`
	Details     string    `json:"details"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, licenseID int, fingerprint, action, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_audit_log (license_id, fingerprint, action, details)
		VALUES (?, ?, ?, ?)`,
		licenseID, fingerprint, action, details)
	return err
}

func (s *AuditStore) ListByLicense(ctx context.Context, licenseID, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_id, fingerprint, action, details, created_at
		FROM device_audit_log
		WHERE license_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		licenseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.LicenseID, &e.Fingerprint, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
