// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrAccountNotFound = errors.New("account not found")

type Account struct {
	ID                 int       `json:"id"`
	ExternalCustomerID *string   `json:"externalCustomerId,omitempty"`
	Email              string    `json:"email"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Upsert creates or updates an account keyed by external customer id, falling
// back to email when the provider did not send a customer id. Safe to replay.
func (s *AccountStore) Upsert(ctx context.Context, externalCustomerID *string, email string) (*Account, error) {
	if externalCustomerID != nil && *externalCustomerID != "" {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO accounts (external_customer_id, email)
			VALUES (?, ?)
			ON CONFLICT (external_customer_id) DO UPDATE SET
				email = excluded.email,
				updated_at = CURRENT_TIMESTAMP
			RETURNING id, external_customer_id, email, created_at, updated_at`,
			externalCustomerID, email)
		return scanAccount(row)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email)
		VALUES (?)
		ON CONFLICT (email) DO UPDATE SET
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, external_customer_id, email, created_at, updated_at`,
		email)
	return scanAccount(row)
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_customer_id, email, created_at, updated_at
		FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.ExternalCustomerID, &a.Email, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}
