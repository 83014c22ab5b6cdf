// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncwell/syncd/internal/api/handlers"
	apimiddleware "github.com/syncwell/syncd/internal/api/middleware"
	"github.com/syncwell/syncd/internal/config"
	"github.com/syncwell/syncd/internal/metrics"
	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/services"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config           *config.AppConfig
	LicenseStore     *models.LicenseStore
	BindingStore     *models.BindingStore
	HeartbeatStore   *models.HeartbeatStore
	AuditStore       *models.AuditStore
	APIKeyStore      *models.APIKeyStore
	AdmissionService *services.AdmissionService
	HeartbeatService *services.HeartbeatService
	MirrorService    *services.MirrorService
	MetricsManager   *metrics.Manager
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(apimiddleware.HTTPLogger)

	agentHandler := handlers.NewAgentHandler(deps.AdmissionService, deps.HeartbeatService)
	devicesHandler := handlers.NewDevicesHandler(
		deps.LicenseStore, deps.BindingStore, deps.HeartbeatStore, deps.AuditStore, deps.AdmissionService)
	webhookHandler := handlers.NewWebhookHandler(deps.MirrorService)

	r.Route("/api", func(r chi.Router) {
		// Agent endpoints authenticate through the license key itself
		agentHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireWebhookSecret(deps.Config.Config.WebhookSecret))
			r.Post("/webhooks/subscription", webhookHandler.HandleSubscription)
		})

		// Management endpoints
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireAPIKey(deps.APIKeyStore))
			devicesHandler.RegisterRoutes(r)
		})

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	})

	if deps.MetricsManager != nil {
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.RequireAPIKey(deps.APIKeyStore))
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
				deps.MetricsManager.GetRegistry(),
				promhttp.HandlerOpts{},
			))
		})
	}

	return r
}
