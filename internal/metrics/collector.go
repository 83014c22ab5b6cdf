// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// FleetCollector exposes binding-ledger state as Prometheus metrics. It
// queries the store on every scrape; the aggregates are cheap against the
// status index.
type FleetCollector struct {
	db *sql.DB

	devicesDesc     *prometheus.Desc
	seatLimitDesc   *prometheus.Desc
	seatsUsedDesc   *prometheus.Desc
	licensesDesc    *prometheus.Desc
	scrapeErrorDesc *prometheus.Desc
}

func NewFleetCollector(db *sql.DB) *FleetCollector {
	return &FleetCollector{
		db: db,

		devicesDesc: prometheus.NewDesc(
			"syncd_devices",
			"Number of device bindings by status",
			[]string{"status"},
			nil,
		),
		seatLimitDesc: prometheus.NewDesc(
			"syncd_seat_limit",
			"Configured seat limit by license",
			[]string{"license_key"},
			nil,
		),
		seatsUsedDesc: prometheus.NewDesc(
			"syncd_seats_used",
			"Active device bindings by license",
			[]string{"license_key"},
			nil,
		),
		licensesDesc: prometheus.NewDesc(
			"syncd_licenses",
			"Number of licenses by status",
			[]string{"status"},
			nil,
		),
		scrapeErrorDesc: prometheus.NewDesc(
			"syncd_scrape_errors",
			"Number of errors encountered during this scrape",
			nil,
			nil,
		),
	}
}

func (c *FleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devicesDesc
	ch <- c.seatLimitDesc
	ch <- c.seatsUsedDesc
	ch <- c.licensesDesc
	ch <- c.scrapeErrorDesc
}

func (c *FleetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scrapeErrors := 0

	if err := c.collectDeviceCounts(ctx, ch); err != nil {
		log.Error().Err(err).Msg("Failed to collect device counts")
		scrapeErrors++
	}
	if err := c.collectLicenseCounts(ctx, ch); err != nil {
		log.Error().Err(err).Msg("Failed to collect license counts")
		scrapeErrors++
	}
	if err := c.collectSeatUsage(ctx, ch); err != nil {
		log.Error().Err(err).Msg("Failed to collect seat usage")
		scrapeErrors++
	}

	ch <- prometheus.MustNewConstMetric(c.scrapeErrorDesc, prometheus.GaugeValue, float64(scrapeErrors))
}

func (c *FleetCollector) collectDeviceCounts(ctx context.Context, ch chan<- prometheus.Metric) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM device_bindings GROUP BY status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count float64
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(c.devicesDesc, prometheus.GaugeValue, count, status)
	}
	return rows.Err()
}

func (c *FleetCollector) collectLicenseCounts(ctx context.Context, ch chan<- prometheus.Metric) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count float64
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(c.licensesDesc, prometheus.GaugeValue, count, status)
	}
	return rows.Err()
}

func (c *FleetCollector) collectSeatUsage(ctx context.Context, ch chan<- prometheus.Metric) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT l.license_key, l.seat_limit,
		       COUNT(CASE WHEN b.status = 'active' THEN 1 END)
		FROM licenses l
		LEFT JOIN device_bindings b ON b.license_id = l.id
		WHERE l.status = 'active'
		GROUP BY l.id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var limit, used float64
		if err := rows.Scan(&key, &limit, &used); err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(c.seatLimitDesc, prometheus.GaugeValue, limit, key)
		ch <- prometheus.MustNewConstMetric(c.seatsUsedDesc, prometheus.GaugeValue, used, key)
	}
	return rows.Err()
}
