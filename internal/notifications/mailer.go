// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications is the transactional mail gateway. Every caller
// treats a send failure as log-and-continue: notifications never block or
// roll back a ledger mutation.
package notifications

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/domain"
)

// Mailer delivers one transactional message.
type Mailer interface {
	Send(to, subject, body string) error
}

// NewMailer returns an SMTP-backed mailer, or a disabled one when no host is
// configured.
func NewMailer(cfg domain.SMTPConfig) Mailer {
	if cfg.Host == "" {
		log.Warn().Msg("SMTP not configured - email notifications are disabled")
		return &disabledMailer{}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg domain.SMTPConfig
}

func (m *smtpMailer) Send(to, subject, body string) error {
	if to == "" {
		return errors.New("no recipient address")
	}

	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}

	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return errors.Wrapf(err, "failed to send mail via %s", addr)
	}

	log.Debug().Str("to", to).Str("subject", subject).Msg("Notification sent")
	return nil
}

type disabledMailer struct{}

func (*disabledMailer) Send(to, subject, _ string) error {
	log.Debug().Str("to", to).Str("subject", subject).Msg("Mail disabled, notification dropped")
	return nil
}
