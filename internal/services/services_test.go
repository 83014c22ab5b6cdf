// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncwell/syncd/internal/database"
	"github.com/syncwell/syncd/internal/models"
)

type testStores struct {
	db            *database.DB
	licenses      *models.LicenseStore
	bindings      *models.BindingStore
	heartbeats    *models.HeartbeatStore
	audit         *models.AuditStore
	accounts      *models.AccountStore
	subscriptions *models.SubscriptionStore
	receipts      *models.WebhookReceiptStore
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &testStores{
		db:            db,
		licenses:      models.NewLicenseStore(db.Conn()),
		bindings:      models.NewBindingStore(db.Conn()),
		heartbeats:    models.NewHeartbeatStore(db.Conn()),
		audit:         models.NewAuditStore(db.Conn()),
		accounts:      models.NewAccountStore(db.Conn()),
		subscriptions: models.NewSubscriptionStore(db.Conn()),
		receipts:      models.NewWebhookReceiptStore(db.Conn()),
	}
}

// newTestLicense provisions an account plus an active license with the given
// seat limit.
func (ts *testStores) newTestLicense(t *testing.T, key string, seatLimit int) *models.License {
	t.Helper()

	account, err := ts.accounts.Upsert(context.Background(), nil, key+"@example.com")
	require.NoError(t, err)

	lic, err := ts.licenses.Create(context.Background(), key, account.ID, seatLimit, TierForQuantity(seatLimit))
	require.NoError(t, err)

	return lic
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *recordingMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errSendFailed
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) countTo(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.To == to {
			n++
		}
	}
	return n
}

var errSendFailed = errSend{}

type errSend struct{}

func (errSend) Error() string { return "send failed" }

type testSettings struct {
	offline  time.Duration
	removal  time.Duration
	interval time.Duration
	operator string
}

func (s testSettings) OfflineThreshold() time.Duration { return s.offline }
func (s testSettings) RemovalThreshold() time.Duration { return s.removal }
func (s testSettings) SweepInterval() time.Duration    { return s.interval }
func (s testSettings) DailySweepHour() int             { return 3 }
func (s testSettings) OperatorEmail() string           { return s.operator }
