package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/ingress"
	"github.com/Priya8975/restock-notifier/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 500

type SubscriptionHandler struct {
	repo    store.Repository
	secret  string
	maxBody int64
	logger  *slog.Logger
}

func NewSubscriptionHandler(repo store.Repository, secret string, maxBody int64, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{repo: repo, secret: secret, maxBody: maxBody, logger: logger}
}

// Subscribe is the storefront intake behind the Shopify app proxy. A repeat
// subscribe for the same shop, email and variant returns the existing row.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if err := ingress.VerifyProxy(h.secret, query); err != nil {
		h.logger.Warn("subscribe rejected", "error", err, "shop", query.Get("shop"))
		respondError(w, http.StatusUnauthorized, "invalid proxy signature")
		return
	}

	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Payload too large", "", nil)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "Request body could not be parsed.", nil)
		return
	}

	// Only the signed query identifies the shop.
	signedShop := strings.ToLower(strings.TrimSpace(query.Get("shop")))
	if bodyShop := strings.ToLower(strings.TrimSpace(req.Shop)); bodyShop != "" && bodyShop != signedShop {
		h.logger.Warn("subscribe rejected", "reason", "shop mismatch", "shop", signedShop, "body_shop", bodyShop)
		writeValidation(w, domain.NewValidationError(domain.FieldError{Field: "shop", Msg: "must match the requesting shop"}))
		return
	}
	req.Shop = signedShop

	req.Normalize()
	if err := req.Validate(); err != nil {
		writeValidation(w, err)
		return
	}

	sub, created, err := h.repo.CreateSubscription(r.Context(), req)
	if err != nil {
		if writeValidation(w, err) {
			return
		}
		h.logger.Error("failed to create subscription", "error", err, "shop", req.Shop, "variant_id", req.VariantID)
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("subscription created", "subscription_id", sub.ID, "shop", sub.Shop, "variant_id", sub.VariantID)
	}
	respondJSON(w, status, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SubscriptionFilter{
		Shop:      q.Get("shop"),
		VariantID: q.Get("variant_id"),
		Email:     q.Get("email"),
		Stage:     q.Get("stage"),
		Limit:     100,
	}
	if filter.Shop == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "", map[string][]string{"shop": {"required"}})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeProblem(w, http.StatusBadRequest, "Invalid request", "",
				map[string][]string{"limit": {"must be between 1 and " + strconv.Itoa(maxListLimit)}})
			return
		}
		filter.Limit = n
	}

	subs, err := h.repo.ListSubscriptions(r.Context(), filter)
	if err != nil {
		if writeValidation(w, err) {
			return
		}
		h.logger.Error("failed to list subscriptions", "error", err, "shop", filter.Shop)
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.repo.GetSubscription(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get subscription", "error", err, "subscription_id", id)
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Funnel(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "", map[string][]string{"shop": {"required"}})
		return
	}

	stats, err := h.repo.FunnelStats(r.Context(), shop)
	if err != nil {
		h.logger.Error("failed to get funnel stats", "error", err, "shop", shop)
		respondError(w, http.StatusInternalServerError, "failed to get funnel stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
