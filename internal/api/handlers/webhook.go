// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/services"
)

// WebhookHandler feeds normalized subscription events from the payment
// provider into the mirror.
type WebhookHandler struct {
	mirror *services.MirrorService
}

func NewWebhookHandler(mirror *services.MirrorService) *WebhookHandler {
	return &WebhookHandler{mirror: mirror}
}

// SubscriptionWebhookRequest is the normalized webhook payload.
type SubscriptionWebhookRequest struct {
	EventID          string     `json:"eventId"`
	SubscriptionID   string     `json:"subscriptionId"`
	CustomerID       *string    `json:"customerId"`
	Email            string     `json:"email"`
	DeviceQuantity   int        `json:"deviceQuantity"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
}

// HandleSubscription processes one webhook delivery. Failures return 5xx so
// the provider redelivers; a replayed event id is a 200 no-op.
func (h *WebhookHandler) HandleSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionWebhookRequest
	err := DecodeNormalized(r, &req, []string{
		"eventId", "subscriptionId", "customerId", "email",
		"deviceQuantity", "status", "currentPeriodEnd",
	})
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.EventID == "" || req.SubscriptionID == "" {
		RespondError(w, http.StatusBadRequest, "eventId and subscriptionId are required")
		return
	}

	result, err := h.mirror.HandleSubscriptionEvent(r.Context(), services.SubscriptionEvent{
		EventID:          req.EventID,
		SubscriptionID:   req.SubscriptionID,
		CustomerID:       req.CustomerID,
		Email:            req.Email,
		DeviceQuantity:   req.DeviceQuantity,
		Status:           req.Status,
		CurrentPeriodEnd: req.CurrentPeriodEnd,
	})
	if err != nil {
		log.Error().Err(err).Str("eventId", req.EventID).Msg("Webhook processing failed")
		RespondError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"processed": true,
		"skipped":   result.Skipped,
	})
}
