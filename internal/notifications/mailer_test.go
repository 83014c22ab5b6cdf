// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncwell/syncd/internal/domain"
)

func TestNewMailerSelection(t *testing.T) {
	m := NewMailer(domain.SMTPConfig{})
	assert.IsType(t, &disabledMailer{}, m)

	m = NewMailer(domain.SMTPConfig{Host: "smtp.example.com", Port: 587})
	assert.IsType(t, &smtpMailer{}, m)
}

func TestDisabledMailerDropsSilently(t *testing.T) {
	m := NewMailer(domain.SMTPConfig{})
	assert.NoError(t, m.Send("anyone@example.com", "subject", "body"))
}

func TestSMTPMailerRequiresRecipient(t *testing.T) {
	m := &smtpMailer{cfg: domain.SMTPConfig{Host: "smtp.example.com", Port: 587}}
	assert.Error(t, m.Send("", "subject", "body"))
}
