// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/syncd/internal/models"
)

type sweepFixture struct {
	ts        *testStores
	clock     *fakeClock
	mailer    *recordingMailer
	sweeper   *Sweeper
	admission *AdmissionService
	settings  testSettings
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	ts := newTestStores(t)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mailer := &recordingMailer{}
	settings := testSettings{
		offline:  7 * 24 * time.Hour,
		removal:  30 * 24 * time.Hour,
		interval: 4 * time.Hour,
	}

	sweeper := NewSweeper(ts.bindings, ts.audit, mailer, settings)
	sweeper.clock = clock

	return &sweepFixture{
		ts:        ts,
		clock:     clock,
		mailer:    mailer,
		sweeper:   sweeper,
		admission: newAdmission(ts, clock),
		settings:  settings,
	}
}

func (f *sweepFixture) bindNotified(t *testing.T, key, fp, email string) *models.DeviceBinding {
	t.Helper()

	lic := f.ts.newTestLicense(t, key, 5)
	require.NoError(t, f.ts.licenses.SetNotifications(context.Background(), lic.ID, true, &email))

	result, err := f.admission.Bind(context.Background(), key, fp, "")
	require.NoError(t, err)
	return result.Binding
}

func TestSweepLeavesFreshDevicesAlone(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Graced)
	assert.Zero(t, stats.Removed)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusActive, got.Status)
	assert.Empty(t, f.mailer.sent)
}

func TestSweepStartsGracePeriod(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(8 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Graced)
	assert.Zero(t, stats.Removed)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusGracePeriod, got.Status)
	require.NotNil(t, got.GracePeriodStartedAt)
	assert.NotNil(t, got.GraceNotifiedAt)

	assert.Equal(t, 1, f.mailer.countTo("owner@example.com"))

	entries, err := f.ts.audit.ListByLicense(ctx, binding.LicenseID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.AuditGracePeriodStarted, entries[0].Action)
}

// Repeating a sweep over an already-graced device must not re-transition it
// or mail the owner again.
func TestSweepGraceIsIdempotent(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(8 * 24 * time.Hour)

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)

	f.clock.Advance(f.settings.interval)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Graced)
	assert.Zero(t, stats.Removed)
	assert.Equal(t, 1, f.mailer.countTo("owner@example.com"))
}

func TestSweepRemovesLongOfflineDevice(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)

	f.clock.Advance(25 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusRemoved, got.Status)

	// Grace mail plus removal mail.
	assert.Equal(t, 2, f.mailer.countTo("owner@example.com"))

	entries, err := f.ts.audit.ListByLicense(ctx, binding.LicenseID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.AuditAutoCleanup, entries[0].Action)
}

// A device can go straight from active to removed when the server was down
// for longer than the removal threshold.
func TestSweepRemovesWithoutPriorGrace(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(31 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Zero(t, stats.Graced)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusRemoved, got.Status)
}

// The cleanup notification is claimed atomically, so a second sweep over the
// same stale row never mails the owner twice.
func TestSweepCleanupNotifiesExactlyOnce(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(31 * 24 * time.Hour)

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)

	f.clock.Advance(f.settings.interval)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Removed)
	assert.Equal(t, 1, f.mailer.countTo("owner@example.com"))
}

// A failing mailer must not block the lifecycle transition itself.
func TestSweepMailFailureDoesNotBlockRemoval(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")
	f.mailer.fail = true

	f.clock.Advance(31 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.NotificationsFailed)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusRemoved, got.Status)
}

func TestSweepSkipsDisabledNotifications(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	f.ts.newTestLicense(t, "SYNC-ABC1-XYZ9", 5)
	_, err := f.admission.Bind(ctx, "SYNC-ABC1-XYZ9", "d1", "")
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Graced)
	assert.Zero(t, stats.NotificationsSent)
	assert.Empty(t, f.mailer.sent)
}

func TestSweepSkipsInactiveLicenses(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	binding := f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	lic, err := f.ts.licenses.GetByKey(ctx, "SYNC-ABC1-XYZ9")
	require.NoError(t, err)
	require.NoError(t, f.ts.licenses.Cancel(ctx, lic.AccountID))

	f.clock.Advance(31 * 24 * time.Hour)

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned)

	got, err := f.ts.bindings.Get(ctx, binding.LicenseID, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusActive, got.Status)
}

func TestSweepSendsOperatorSummary(t *testing.T) {
	f := newSweepFixture(t)
	f.settings.operator = "ops@example.com"
	f.sweeper.settings = f.settings
	ctx := context.Background()

	f.bindNotified(t, "SYNC-ABC1-XYZ9", "d1", "owner@example.com")

	f.clock.Advance(8 * 24 * time.Hour)

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mailer.countTo("ops@example.com"))
}
