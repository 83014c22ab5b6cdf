// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
)

// WebhookReceiptStore records processed webhook event ids. A receipt is only
// written after every effect of the event has been applied, so redelivery of
// an unrecorded event is always safe to retry.
type WebhookReceiptStore struct {
	db *sql.DB
}

func NewWebhookReceiptStore(db *sql.DB) *WebhookReceiptStore {
	return &WebhookReceiptStore{db: db}
}

func (s *WebhookReceiptStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_receipts WHERE event_id = ?`, eventID).Scan(&count)
	return count > 0, err
}

func (s *WebhookReceiptStore) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_receipts (event_id) VALUES (?) ON CONFLICT (event_id) DO NOTHING`,
		eventID)
	return err
}
