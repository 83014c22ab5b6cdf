// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/notifications"
)

// SweeperSettings is the configurable part of the lifecycle sweeper. Values
// are read on every pass so config reloads take effect without a restart.
type SweeperSettings interface {
	OfflineThreshold() time.Duration
	RemovalThreshold() time.Duration
	SweepInterval() time.Duration
	DailySweepHour() int
	OperatorEmail() string
}

// Sweeper walks the binding ledger and ages unseen devices through
// active -> grace_period -> removed. A pass is idempotent and safe to run
// concurrently with itself and with live traffic: every transition is one
// conditional update keyed on the row's current status, so a racing
// heartbeat reactivation always wins or loses cleanly, never both.
type Sweeper struct {
	bindings *models.BindingStore
	audit    *models.AuditStore
	mailer   notifications.Mailer
	settings SweeperSettings
	clock    Clock

	transitions *prometheus.CounterVec
}

func NewSweeper(bindings *models.BindingStore, audit *models.AuditStore, mailer notifications.Mailer, settings SweeperSettings) *Sweeper {
	return &Sweeper{
		bindings: bindings,
		audit:    audit,
		mailer:   mailer,
		settings: settings,
		clock:    systemClock{},
	}
}

// SetTransitionCounter wires the sweeper's transition counter into a metrics
// registry. Optional; the sweeper works without it.
func (s *Sweeper) SetTransitionCounter(c *prometheus.CounterVec) {
	s.transitions = c
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Scanned             int
	Graced              int
	Removed             int
	NotificationsSent   int
	NotificationsFailed int
}

func (st SweepStats) touched() int {
	return st.Graced + st.Removed
}

// Sweep runs one pass over the ledger.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	now := s.clock.Now()
	graceCutoff := now.Add(-s.settings.OfflineThreshold())
	removalCutoff := now.Add(-s.settings.RemovalThreshold())

	candidates, err := s.bindings.ListSweepCandidates(ctx, graceCutoff)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if c.Binding.LastSeenAt.Before(removalCutoff) {
			s.cleanup(ctx, c, now, &stats)
			continue
		}

		if c.Binding.Status == models.DeviceStatusActive && c.Binding.GracePeriodStartedAt == nil {
			s.startGrace(ctx, c, now, &stats)
		}
	}

	if stats.touched() > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("graced", stats.Graced).
			Int("removed", stats.Removed).
			Msg("Sweep pass complete")

		s.sendOperatorSummary(stats)
	}

	return stats, nil
}

func (s *Sweeper) startGrace(ctx context.Context, c *models.SweepCandidate, now time.Time, stats *SweepStats) {
	transitioned, err := s.bindings.MarkGrace(ctx, c.Binding.ID, now)
	if err != nil {
		log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to start grace period")
		return
	}
	if !transitioned {
		// A heartbeat got there first.
		return
	}

	stats.Graced++
	s.countTransition("grace_period")

	if err := s.audit.Append(ctx, c.Binding.LicenseID, c.Binding.Fingerprint,
		models.AuditGracePeriodStarted,
		fmt.Sprintf("device %q unseen since %s", c.Binding.Name, c.Binding.LastSeenAt.Format(time.RFC3339))); err != nil {
		log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to write grace audit entry")
	}

	if c.NotificationsEnabled && c.NotifyEmail != nil && *c.NotifyEmail != "" {
		subject := fmt.Sprintf("Device %q is offline", c.Binding.Name)
		body := fmt.Sprintf(
			"Your device %q (license %s) has not checked in since %s.\n\n"+
				"It has entered a grace period and will be removed from your license "+
				"if it does not come back online.\n",
			c.Binding.Name, c.LicenseKey, c.Binding.LastSeenAt.Format(time.RFC1123))

		if err := s.mailer.Send(*c.NotifyEmail, subject, body); err != nil {
			stats.NotificationsFailed++
			log.Error().Err(err).Str("to", *c.NotifyEmail).Msg("Failed to send offline notification")
		} else {
			stats.NotificationsSent++
			if err := s.bindings.SetGraceNotified(ctx, c.Binding.ID, now); err != nil {
				log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to record grace notification")
			}
		}
	}

	log.Info().
		Str("licenseKey", maskLicenseKey(c.LicenseKey)).
		Str("fingerprint", c.Binding.Fingerprint).
		Time("lastSeen", c.Binding.LastSeenAt).
		Msg("Device entered grace period")
}

func (s *Sweeper) cleanup(ctx context.Context, c *models.SweepCandidate, now time.Time, stats *SweepStats) {
	// Claim the one-shot notification before the status flip so overlapping
	// sweeps cannot both mail the customer.
	if c.NotificationsEnabled && c.NotifyEmail != nil && *c.NotifyEmail != "" {
		claimed, err := s.bindings.ClaimCleanupNotification(ctx, c.Binding.ID, now)
		if err != nil {
			log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to claim cleanup notification")
		} else if claimed {
			subject := fmt.Sprintf("Device %q was removed", c.Binding.Name)
			body := fmt.Sprintf(
				"Your device %q (license %s) has not checked in since %s and has been "+
					"removed from your license.\n\nIts seat is now free for another device.\n",
				c.Binding.Name, c.LicenseKey, c.Binding.LastSeenAt.Format(time.RFC1123))

			if err := s.mailer.Send(*c.NotifyEmail, subject, body); err != nil {
				stats.NotificationsFailed++
				log.Error().Err(err).Str("to", *c.NotifyEmail).Msg("Failed to send removal notification")
			} else {
				stats.NotificationsSent++
			}
		}
	}

	removed, err := s.bindings.MarkRemoved(ctx, c.Binding.ID)
	if err != nil {
		log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to remove stale binding")
		return
	}
	if !removed {
		return
	}

	stats.Removed++
	s.countTransition("removed")

	if err := s.audit.Append(ctx, c.Binding.LicenseID, c.Binding.Fingerprint,
		models.AuditAutoCleanup,
		fmt.Sprintf("device %q removed after %s offline", c.Binding.Name, now.Sub(c.Binding.LastSeenAt).Round(time.Hour))); err != nil {
		log.Error().Err(err).Int("bindingId", c.Binding.ID).Msg("Failed to write cleanup audit entry")
	}

	log.Info().
		Str("licenseKey", maskLicenseKey(c.LicenseKey)).
		Str("fingerprint", c.Binding.Fingerprint).
		Time("lastSeen", c.Binding.LastSeenAt).
		Msg("Stale device removed")
}

func (s *Sweeper) sendOperatorSummary(stats SweepStats) {
	operator := s.settings.OperatorEmail()
	if operator == "" {
		return
	}

	subject := fmt.Sprintf("Sweep summary: %d graced, %d removed", stats.Graced, stats.Removed)
	body := fmt.Sprintf(
		"Lifecycle sweep finished.\n\nScanned: %d\nEntered grace period: %d\nRemoved: %d\n"+
			"Notifications sent: %d\nNotifications failed: %d\n",
		stats.Scanned, stats.Graced, stats.Removed, stats.NotificationsSent, stats.NotificationsFailed)

	if err := s.mailer.Send(operator, subject, body); err != nil {
		log.Error().Err(err).Str("to", operator).Msg("Failed to send sweep summary")
	}
}

func (s *Sweeper) countTransition(to string) {
	if s.transitions != nil {
		s.transitions.WithLabelValues(to).Inc()
	}
}

// Run drives the two sweep schedules, a frequent pass and a daily pass,
// until ctx is canceled. Both call the same idempotent Sweep; overlap is
// harmless.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.settings.SweepInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	daily := time.NewTimer(s.untilDailyPass())
	defer daily.Stop()

	log.Info().Dur("interval", interval).Int("dailyHour", s.settings.DailySweepHour()).Msg("Lifecycle sweeper started")

	// Initial pass on startup so a long-stopped server catches up promptly.
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Lifecycle sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Sweep failed")
			}
		case <-daily.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Daily sweep failed")
			}
			daily.Reset(s.untilDailyPass())
		}
	}
}

func (s *Sweeper) untilDailyPass() time.Duration {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.settings.DailySweepHour(), 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
