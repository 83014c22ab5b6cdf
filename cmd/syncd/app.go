// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/api"
	"github.com/syncwell/syncd/internal/config"
	"github.com/syncwell/syncd/internal/database"
	"github.com/syncwell/syncd/internal/metrics"
	"github.com/syncwell/syncd/internal/models"
	"github.com/syncwell/syncd/internal/notifications"
	"github.com/syncwell/syncd/internal/pipeline"
	"github.com/syncwell/syncd/internal/services"
)

type Application struct {
	version   string
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(version, configDir, dataDir, logPath string) *Application {
	return &Application{
		version:   version,
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	log.Info().Str("version", app.version).Msg("Starting syncd")

	cfg, err := config.New(app.configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.dataDir != "" {
		cfg.Config.DataDir = app.dataDir
	}
	if app.logPath != "" {
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	licenseStore := models.NewLicenseStore(db.Conn())
	bindingStore := models.NewBindingStore(db.Conn())
	heartbeatStore := models.NewHeartbeatStore(db.Conn())
	auditStore := models.NewAuditStore(db.Conn())
	accountStore := models.NewAccountStore(db.Conn())
	subscriptionStore := models.NewSubscriptionStore(db.Conn())
	receiptStore := models.NewWebhookReceiptStore(db.Conn())
	apiKeyStore := models.NewAPIKeyStore(db.Conn())

	mailer := notifications.NewMailer(cfg.Config.SMTP)
	pipelineClient := pipeline.NewClient(cfg.Config.Pipeline)

	admissionService := services.NewAdmissionService(licenseStore, bindingStore, auditStore)
	heartbeatService, err := services.NewHeartbeatService(licenseStore, bindingStore, heartbeatStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize heartbeat service")
	}
	mirrorService := services.NewMirrorService(receiptStore, accountStore, subscriptionStore, licenseStore, pipelineClient)

	metricsManager := metrics.NewManager(db.Conn())

	sweeper := services.NewSweeper(bindingStore, auditStore, mailer, cfg)
	sweeper.SetTransitionCounter(metricsManager.SweepTransitions())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	deps := &api.Dependencies{
		Config:           cfg,
		LicenseStore:     licenseStore,
		BindingStore:     bindingStore,
		HeartbeatStore:   heartbeatStore,
		AuditStore:       auditStore,
		APIKeyStore:      apiKeyStore,
		AdmissionService: admissionService,
		HeartbeatService: heartbeatService,
		MirrorService:    mirrorService,
		MetricsManager:   metricsManager,
	}

	router := api.NewRouter(deps)

	// When served under a sub-path, mount the whole app there.
	var handler http.Handler = router
	if cfg.Config.BaseURL != "" && cfg.Config.BaseURL != "/" {
		parentRouter := chi.NewRouter()
		mountPath := strings.TrimSuffix(cfg.Config.BaseURL, "/")
		parentRouter.Mount(mountPath, router)
		parentRouter.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, cfg.Config.BaseURL, http.StatusMovedPermanently)
		})
		handler = parentRouter
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Config.Host, cfg.Config.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Config.HTTPTimeouts.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Config.HTTPTimeouts.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Config.HTTPTimeouts.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
