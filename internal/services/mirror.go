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

// BuildDispatcher is the slice of the external build pipeline the mirror
// needs: make sure an agent build exists for a license.
type BuildDispatcher interface {
	EnsureBuild(ctx context.Context, licenseID int, licenseKey string) error
}

// SubscriptionEvent is a normalized subscription change delivered by the
// payment provider's webhook.
type SubscriptionEvent struct {
	EventID          string
	SubscriptionID   string
	CustomerID       *string
	Email            string
	DeviceQuantity   int
	Status           string
	CurrentPeriodEnd *time.Time
}

// MirrorResult reports what a webhook delivery did.
type MirrorResult struct {
	Skipped bool            `json:"skipped"`
	License *models.License `json:"license,omitempty"`
}

// MirrorService applies subscription webhooks to internal state exactly once
// per event id. Every intermediate step is an upsert, so a redelivery after a
// mid-flight failure replays cleanly; the receipt is written only after all
// effects landed.
type MirrorService struct {
	receipts      *models.WebhookReceiptStore
	accounts      *models.AccountStore
	subscriptions *models.SubscriptionStore
	licenses      *models.LicenseStore
	dispatcher    BuildDispatcher
	clock         Clock
}

func NewMirrorService(
	receipts *models.WebhookReceiptStore,
	accounts *models.AccountStore,
	subscriptions *models.SubscriptionStore,
	licenses *models.LicenseStore,
	dispatcher BuildDispatcher,
) *MirrorService {
	return &MirrorService{
		receipts:      receipts,
		accounts:      accounts,
		subscriptions: subscriptions,
		licenses:      licenses,
		dispatcher:    dispatcher,
		clock:         systemClock{},
	}
}

// HandleSubscriptionEvent processes one webhook delivery.
//
// Known limitation: deliveries for the same subscription are applied
// last-write-wins without an event-timestamp guard, so an out-of-order
// redelivery can briefly resurrect older state until the next event lands.
func (s *MirrorService) HandleSubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (*MirrorResult, error) {
	if ev.EventID == "" {
		return nil, errors.New("event id is required")
	}
	if ev.SubscriptionID == "" {
		return nil, errors.New("subscription id is required")
	}
	if ev.Email == "" && (ev.CustomerID == nil || *ev.CustomerID == "") {
		return nil, errors.New("customer id or email is required")
	}
	if ev.DeviceQuantity < 0 {
		return nil, fmt.Errorf("device quantity must not be negative, got %d", ev.DeviceQuantity)
	}

	processed, err := s.receipts.IsProcessed(ctx, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check webhook receipt: %w", err)
	}
	if processed {
		log.Debug().Str("eventId", ev.EventID).Msg("Webhook event already processed, skipping")
		return &MirrorResult{Skipped: true}, nil
	}

	account, err := s.accounts.Upsert(ctx, ev.CustomerID, ev.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	sub, err := s.subscriptions.Upsert(ctx, ev.SubscriptionID, account.ID, ev.DeviceQuantity, ev.Status, ev.CurrentPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	tier := TierForQuantity(ev.DeviceQuantity)

	// A canceled subscription past its paid period zeroes the license out.
	// Canceled but still inside the period keeps its seats until it lapses.
	if ev.Status == models.SubscriptionStatusCanceled &&
		ev.CurrentPeriodEnd != nil && s.clock.Now().After(*ev.CurrentPeriodEnd) {
		if err := s.licenses.Cancel(ctx, account.ID); err != nil {
			return nil, err
		}
		if err := s.receipts.MarkProcessed(ctx, ev.EventID); err != nil {
			return nil, fmt.Errorf("failed to record webhook receipt: %w", err)
		}

		log.Info().
			Str("eventId", ev.EventID).
			Str("subscriptionId", ev.SubscriptionID).
			Msg("Subscription lapsed, license canceled")

		return &MirrorResult{}, nil
	}

	lic, err := s.upsertLicense(ctx, account.ID, ev.DeviceQuantity, tier)
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil &&
		(sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing) {
		if err := s.dispatcher.EnsureBuild(ctx, lic.ID, lic.Key); err != nil {
			// Leaving the receipt unwritten makes the provider redeliver,
			// which retries the dispatch.
			return nil, fmt.Errorf("failed to ensure agent build: %w", err)
		}
	}

	if err := s.receipts.MarkProcessed(ctx, ev.EventID); err != nil {
		return nil, fmt.Errorf("failed to record webhook receipt: %w", err)
	}

	log.Info().
		Str("eventId", ev.EventID).
		Str("subscriptionId", ev.SubscriptionID).
		Str("licenseKey", maskLicenseKey(lic.Key)).
		Int("seats", lic.SeatLimit).
		Str("tier", lic.Tier).
		Msg("Subscription mirrored to license")

	return &MirrorResult{License: lic}, nil
}

// upsertLicense keeps the account at exactly one license: the first event
// creates it with a fresh key, later events only adjust seats and tier. The
// unique account index backs this up even if two deliveries race the
// not-found check.
func (s *MirrorService) upsertLicense(ctx context.Context, accountID, seatLimit int, tier string) (*models.License, error) {
	existing, err := s.licenses.GetByAccountID(ctx, accountID)
	switch {
	case err == nil:
		return s.licenses.UpsertForAccount(ctx, existing.Key, accountID, seatLimit, tier)
	case errors.Is(err, models.ErrLicenseNotFound):
		key, err := license.Generate()
		if err != nil {
			return nil, err
		}
		return s.licenses.UpsertForAccount(ctx, key, accountID, seatLimit, tier)
	default:
		return nil, err
	}
}
