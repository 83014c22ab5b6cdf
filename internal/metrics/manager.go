// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry         *prometheus.Registry
	fleetCollector   *FleetCollector
	sweepTransitions *prometheus.CounterVec
}

func NewManager(db *sql.DB) *Manager {
	registry := prometheus.NewRegistry()

	fleetCollector := NewFleetCollector(db)
	registry.MustRegister(fleetCollector)

	sweepTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_sweep_transitions_total",
		Help: "Device lifecycle transitions applied by the sweeper",
	}, []string{"to"})
	registry.MustRegister(sweepTransitions)

	log.Info().Msg("Metrics manager initialized with fleet collector")

	return &Manager{
		registry:         registry,
		fleetCollector:   fleetCollector,
		sweepTransitions: sweepTransitions,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// SweepTransitions is the counter the lifecycle sweeper increments.
func (m *Manager) SweepTransitions() *prometheus.CounterVec {
	return m.sweepTransitions
}
