// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/syncd/internal/license"
	"github.com/syncwell/syncd/internal/models"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (d *recordingDispatcher) EnsureBuild(_ context.Context, _ int, licenseKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("pipeline unavailable")
	}
	d.calls = append(d.calls, licenseKey)
	return nil
}

func newMirror(ts *testStores, dispatcher BuildDispatcher, clock Clock) *MirrorService {
	svc := NewMirrorService(ts.receipts, ts.accounts, ts.subscriptions, ts.licenses, dispatcher)
	if clock != nil {
		svc.clock = clock
	}
	return svc
}

func activeEvent(eventID, subID, email string, quantity int) SubscriptionEvent {
	return SubscriptionEvent{
		EventID:        eventID,
		SubscriptionID: subID,
		Email:          email,
		DeviceQuantity: quantity,
		Status:         models.SubscriptionStatusActive,
	}
}

func TestMirrorValidation(t *testing.T) {
	ts := newTestStores(t)
	svc := newMirror(ts, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   SubscriptionEvent
	}{
		{"missing event id", SubscriptionEvent{SubscriptionID: "sub_1", Email: "a@b.c", DeviceQuantity: 1}},
		{"missing subscription id", SubscriptionEvent{EventID: "evt_1", Email: "a@b.c", DeviceQuantity: 1}},
		{"no customer identity", SubscriptionEvent{EventID: "evt_1", SubscriptionID: "sub_1", DeviceQuantity: 1}},
		{"negative quantity", SubscriptionEvent{EventID: "evt_1", SubscriptionID: "sub_1", Email: "a@b.c", DeviceQuantity: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleSubscriptionEvent(ctx, tt.ev)
			assert.Error(t, err)
		})
	}
}

func TestMirrorCreatesLicense(t *testing.T) {
	ts := newTestStores(t)
	dispatcher := &recordingDispatcher{}
	svc := newMirror(ts, dispatcher, nil)
	ctx := context.Background()

	result, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 10))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.NotNil(t, result.License)

	assert.NoError(t, license.Validate(result.License.Key))
	assert.Equal(t, 10, result.License.SeatLimit)
	assert.Equal(t, "team", result.License.Tier)
	assert.Equal(t, models.LicenseStatusActive, result.License.Status)

	// The build pipeline was asked for an agent build for the new key.
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, result.License.Key, dispatcher.calls[0])
}

// Redelivering the same event id must be a no-op.
func TestMirrorIdempotentReplay(t *testing.T) {
	ts := newTestStores(t)
	dispatcher := &recordingDispatcher{}
	svc := newMirror(ts, dispatcher, nil)
	ctx := context.Background()

	first, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 3))
	require.NoError(t, err)

	replay, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 3))
	require.NoError(t, err)
	assert.True(t, replay.Skipped)
	assert.Len(t, dispatcher.calls, 1)

	lic, err := ts.licenses.GetByKey(ctx, first.License.Key)
	require.NoError(t, err)
	assert.Equal(t, 3, lic.SeatLimit)
}

// Seat changes on later events keep the original license key: one license per
// account, adjusted in place.
func TestMirrorSeatChangeKeepsKey(t *testing.T) {
	ts := newTestStores(t)
	svc := newMirror(ts, nil, nil)
	ctx := context.Background()

	first, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 3))
	require.NoError(t, err)

	second, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_2", "sub_1", "alice@example.com", 40))
	require.NoError(t, err)

	assert.Equal(t, first.License.Key, second.License.Key)
	assert.Equal(t, 40, second.License.SeatLimit)
	assert.Equal(t, "business", second.License.Tier)

	account, err := ts.accounts.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	lic, err := ts.licenses.GetByAccountID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, first.License.Key, lic.Key)
}

func TestMirrorCanceledPastPeriodEnd(t *testing.T) {
	ts := newTestStores(t)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newMirror(ts, nil, clock)
	ctx := context.Background()

	created, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 5))
	require.NoError(t, err)

	periodEnd := clock.Now().Add(-time.Hour)
	_, err = svc.HandleSubscriptionEvent(ctx, SubscriptionEvent{
		EventID:          "evt_2",
		SubscriptionID:   "sub_1",
		Email:            "alice@example.com",
		DeviceQuantity:   5,
		Status:           models.SubscriptionStatusCanceled,
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	lic, err := ts.licenses.GetByKey(ctx, created.License.Key)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusCanceled, lic.Status)
	assert.Zero(t, lic.SeatLimit)
}

// A manually suspended license stays suspended through later subscription
// events; only seats and tier follow the provider.
func TestMirrorKeepsSuspendedStatus(t *testing.T) {
	ts := newTestStores(t)
	svc := newMirror(ts, nil, nil)
	ctx := context.Background()

	created, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 5))
	require.NoError(t, err)

	require.NoError(t, ts.licenses.SetStatus(ctx, created.License.ID, models.LicenseStatusSuspended))

	_, err = svc.HandleSubscriptionEvent(ctx, activeEvent("evt_2", "sub_1", "alice@example.com", 30))
	require.NoError(t, err)

	lic, err := ts.licenses.GetByKey(ctx, created.License.Key)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusSuspended, lic.Status)
	assert.Equal(t, 30, lic.SeatLimit)
	assert.Equal(t, "business", lic.Tier)
}

// A fresh active event after a lapsed cancellation reactivates the license.
func TestMirrorRenewalReactivatesCanceled(t *testing.T) {
	ts := newTestStores(t)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newMirror(ts, nil, clock)
	ctx := context.Background()

	created, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 5))
	require.NoError(t, err)

	periodEnd := clock.Now().Add(-time.Hour)
	_, err = svc.HandleSubscriptionEvent(ctx, SubscriptionEvent{
		EventID:          "evt_2",
		SubscriptionID:   "sub_1",
		Email:            "alice@example.com",
		DeviceQuantity:   5,
		Status:           models.SubscriptionStatusCanceled,
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	_, err = svc.HandleSubscriptionEvent(ctx, activeEvent("evt_3", "sub_1", "alice@example.com", 5))
	require.NoError(t, err)

	lic, err := ts.licenses.GetByKey(ctx, created.License.Key)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, lic.Status)
	assert.Equal(t, 5, lic.SeatLimit)
}

// Canceled but still inside the paid period keeps the license live.
func TestMirrorCanceledWithinPeriodKeepsSeats(t *testing.T) {
	ts := newTestStores(t)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newMirror(ts, nil, clock)
	ctx := context.Background()

	created, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 5))
	require.NoError(t, err)

	periodEnd := clock.Now().Add(24 * time.Hour)
	_, err = svc.HandleSubscriptionEvent(ctx, SubscriptionEvent{
		EventID:          "evt_2",
		SubscriptionID:   "sub_1",
		Email:            "alice@example.com",
		DeviceQuantity:   5,
		Status:           models.SubscriptionStatusCanceled,
		CurrentPeriodEnd: &periodEnd,
	})
	require.NoError(t, err)

	lic, err := ts.licenses.GetByKey(ctx, created.License.Key)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, lic.Status)
	assert.Equal(t, 5, lic.SeatLimit)
}

// A dispatch failure leaves the receipt unwritten so the provider's
// redelivery retries the whole event.
func TestMirrorDispatchFailureAllowsRetry(t *testing.T) {
	ts := newTestStores(t)
	dispatcher := &recordingDispatcher{fail: true}
	svc := newMirror(ts, dispatcher, nil)
	ctx := context.Background()

	_, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 2))
	require.Error(t, err)

	processed, err := ts.receipts.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)

	dispatcher.fail = false

	result, err := svc.HandleSubscriptionEvent(ctx, activeEvent("evt_1", "sub_1", "alice@example.com", 2))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.NotNil(t, result.License)
	assert.Len(t, dispatcher.calls, 1)
}

func TestMirrorMatchesByCustomerID(t *testing.T) {
	ts := newTestStores(t)
	svc := newMirror(ts, nil, nil)
	ctx := context.Background()

	customer := "cus_42"
	first, err := svc.HandleSubscriptionEvent(ctx, SubscriptionEvent{
		EventID:        "evt_1",
		SubscriptionID: "sub_1",
		CustomerID:     &customer,
		Email:          "alice@example.com",
		DeviceQuantity: 2,
		Status:         models.SubscriptionStatusActive,
	})
	require.NoError(t, err)

	// Same customer with a changed billing email still maps to the same
	// account and license.
	second, err := svc.HandleSubscriptionEvent(ctx, SubscriptionEvent{
		EventID:        "evt_2",
		SubscriptionID: "sub_1",
		CustomerID:     &customer,
		Email:          "alice@other.example",
		DeviceQuantity: 2,
		Status:         models.SubscriptionStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, first.License.Key, second.License.Key)
}

func TestMirrorTrialingDispatchesBuild(t *testing.T) {
	ts := newTestStores(t)
	dispatcher := &recordingDispatcher{}
	svc := newMirror(ts, dispatcher, nil)
	ctx := context.Background()

	ev := activeEvent("evt_1", "sub_1", "alice@example.com", 1)
	ev.Status = models.SubscriptionStatusTrialing

	_, err := svc.HandleSubscriptionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Len(t, dispatcher.calls, 1)
}

func TestMirrorPastDueSkipsDispatch(t *testing.T) {
	ts := newTestStores(t)
	dispatcher := &recordingDispatcher{}
	svc := newMirror(ts, dispatcher, nil)
	ctx := context.Background()

	ev := activeEvent("evt_1", "sub_1", "alice@example.com", 1)
	ev.Status = models.SubscriptionStatusPastDue

	_, err := svc.HandleSubscriptionEvent(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, dispatcher.calls)
}
