// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/models"
)

// RequireAPIKey gates management endpoints behind an X-API-Key header.
func RequireAPIKey(apiKeys *models.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			apiKey, err := apiKeys.Validate(r.Context(), rawKey)
			if err != nil {
				log.Warn().Err(err).Msg("Invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			log.Debug().Int("apiKeyID", apiKey.ID).Str("name", apiKey.Name).Msg("API key authenticated")
			next.ServeHTTP(w, r)
		})
	}
}

// RequireWebhookSecret checks the shared secret on webhook deliveries.
// Provider-specific signature schemes terminate upstream; this is the last
// line against stray traffic hitting the mirror.
func RequireWebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				log.Warn().Msg("Webhook secret not configured, accepting delivery unchecked")
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
