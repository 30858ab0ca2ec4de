package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/ingress"
)

// WebhookProcessor handles an authenticated webhook.
type WebhookProcessor interface {
	Process(ctx context.Context, w ingress.Webhook) (ingress.Outcome, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	secret    string
	maxBody   int64
	logger    *slog.Logger
}

func NewWebhookHandler(processor WebhookProcessor, secret string, maxBody int64, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, secret: secret, maxBody: maxBody, logger: logger}
}

// Receive verifies and processes a Shopify webhook. Shopify retries anything
// other than 2xx, so only an unverifiable or unusable request is rejected and
// dependency failures ask for a redelivery with 503.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Payload too large", "", nil)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := ingress.VerifyWebhook(h.secret, body, r.Header.Get(ingress.HeaderHMAC)); err != nil {
		h.logger.Warn("webhook rejected", "error", err, "shop", r.Header.Get(ingress.HeaderShop))
		respondError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	webhook := ingress.Webhook{
		ID:    r.Header.Get(ingress.HeaderWebhookID),
		Topic: r.Header.Get(ingress.HeaderTopic),
		Shop:  r.Header.Get(ingress.HeaderShop),
		Body:  body,
	}

	outcome, err := h.processor.Process(r.Context(), webhook)
	if err != nil {
		if writeValidation(w, err) {
			h.logger.Warn("invalid webhook payload", "error", err, "topic", webhook.Topic, "shop", webhook.Shop)
			return
		}
		h.logger.Error("webhook processing failed", "error", err, "topic", webhook.Topic, "shop", webhook.Shop)
		if errors.Is(err, domain.ErrTransient) {
			respondError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}
