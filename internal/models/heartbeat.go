// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"
)

// Heartbeat is one append-only health observation. Rows are never mutated;
// binding state is only affected through the heartbeat processor.
type Heartbeat struct {
	ID          int       `json:"id"`
	LicenseID   int       `json:"licenseId"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"`
	EventType   string    `json:"eventType"`
	Message     string    `json:"message"`
	ErrorDetail *string   `json:"errorDetail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type HeartbeatStore struct {
	db *sql.DB
}

func NewHeartbeatStore(db *sql.DB) *HeartbeatStore {
	return &HeartbeatStore{db: db}
}

func (s *HeartbeatStore) Append(ctx context.Context, hb *Heartbeat) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO heartbeats (license_id, fingerprint, status, event_type, message, error_detail)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		hb.LicenseID, hb.Fingerprint, hb.Status, hb.EventType, hb.Message, hb.ErrorDetail,
	).Scan(&hb.ID, &hb.CreatedAt)
}

// ListRecent returns the newest heartbeats for one device, newest first.
func (s *HeartbeatStore) ListRecent(ctx context.Context, licenseID int, fingerprint string, limit int) ([]*Heartbeat, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_id, fingerprint, status, event_type, message, error_detail, created_at
		FROM heartbeats
		WHERE license_id = ? AND fingerprint = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		licenseID, fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beats []*Heartbeat
	for rows.Next() {
		hb := &Heartbeat{}
		if err := rows.Scan(
			&hb.ID, &hb.LicenseID, &hb.Fingerprint, &hb.Status,
			&hb.EventType, &hb.Message, &hb.ErrorDetail, &hb.CreatedAt,
		); err != nil {
			return nil, err
		}
		beats = append(beats, hb)
	}
	return beats, rows.Err()
}

// LatestStatus returns the most recent normalized status for a device, or
// empty string if none recorded.
func (s *HeartbeatStore) LatestStatus(ctx context.Context, licenseID int, fingerprint string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM heartbeats
		WHERE license_id = ? AND fingerprint = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		licenseID, fingerprint).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}
