package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/ideacapture/internal/auth"
	billingstripe "github.com/dukerupert/ideacapture/internal/billing/stripe"
	"github.com/dukerupert/ideacapture/internal/model"
)

// CheckoutClient creates the processor-hosted checkout and portal sessions.
type CheckoutClient interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, userID, period string) (string, error)
	CreateBillingPortalSession(ctx context.Context, customerID string) (string, error)
}

// CustomerStore reads snapshots and records the processor customer id.
type CustomerStore interface {
	GetOrCreate(ctx context.Context, userID string) (*model.Snapshot, error)
	SetCustomerID(ctx context.Context, userID, customerID string) error
}

type CheckoutHandler struct {
	client CheckoutClient
	store  CustomerStore
	logger *slog.Logger
}

func NewCheckoutHandler(c CheckoutClient, s CustomerStore, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		client: c,
		store:  s,
		logger: logger.With("component", "checkout"),
	}
}

type checkoutRequest struct {
	BillingPeriod string `json:"billing_period" validate:"omitempty,oneof=monthly yearly"`
}

// CreateCheckoutSession creates a Stripe checkout session and returns the URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "billing_period must be monthly or yearly")
		return
	}
	if req.BillingPeriod == "" {
		req.BillingPeriod = billingstripe.PeriodMonthly
	}

	snap, err := h.store.GetOrCreate(r.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("load snapshot", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	// Ensure Stripe customer exists
	customerID := ""
	if snap.StripeCustomerID != nil {
		customerID = *snap.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = h.client.CreateCustomer(r.Context(), ac.Email, ac.UserID)
		if err != nil {
			h.logger.Error("create customer", "user_id", ac.UserID, "error", err)
			writeError(w, http.StatusBadGateway, "failed to create customer")
			return
		}
		if err := h.store.SetCustomerID(r.Context(), ac.UserID, customerID); err != nil {
			h.logger.Error("save customer id", "user_id", ac.UserID, "customer_id", customerID, "error", err)
		}
	}

	url, err := h.client.CreateCheckoutSession(r.Context(), customerID, ac.UserID, req.BillingPeriod)
	if err != nil {
		h.logger.Error("create checkout session", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal creates a Stripe billing portal session and returns the URL.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	snap, err := h.store.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.logger.Error("load snapshot", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}
	if snap.StripeCustomerID == nil || *snap.StripeCustomerID == "" {
		writeError(w, http.StatusNotFound, "no billing account found")
		return
	}

	url, err := h.client.CreateBillingPortalSession(r.Context(), *snap.StripeCustomerID)
	if err != nil {
		h.logger.Error("create portal session", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
