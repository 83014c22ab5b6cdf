// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors the external provider's subscription for one account.
// Historical rows stay around for audit; at most one of them drives the
// account's license seat limit at a time.
type Subscription struct {
	ID               int        `json:"id"`
	ExternalID       string     `json:"externalId"`
	AccountID        int        `json:"accountId"`
	DeviceQuantity   int        `json:"deviceQuantity"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Upsert creates or updates the mirrored subscription keyed by external id.
// Last write wins; chronological ordering of redeliveries is not guaranteed.
func (s *SubscriptionStore) Upsert(ctx context.Context, externalID string, accountID, deviceQuantity int, status string, currentPeriodEnd *time.Time) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (external_id, account_id, device_quantity, status, current_period_end)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			account_id = excluded.account_id,
			device_quantity = excluded.device_quantity,
			status = excluded.status,
			current_period_end = excluded.current_period_end,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, external_id, account_id, device_quantity, status, current_period_end, created_at, updated_at`,
		externalID, accountID, deviceQuantity, status, currentPeriodEnd)
	return scanSubscription(row)
}

func (s *SubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, account_id, device_quantity, status, current_period_end, created_at, updated_at
		FROM subscriptions WHERE external_id = ?`, externalID)
	return scanSubscription(row)
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	sub := &Subscription{}
	err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.AccountID, &sub.DeviceQuantity,
		&sub.Status, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}
