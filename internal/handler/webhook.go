package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/ideacapture/internal/billing"
	billingstripe "github.com/dukerupert/ideacapture/internal/billing/stripe"
)

// Stripe event payloads stay well under this; larger bodies are rejected
// with 413 rather than truncated.
const maxWebhookBody = 1 << 20

// EventVerifier checks the signature over a raw webhook payload.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// WebhookMetrics is the subset of metrics the webhook reports directly.
type WebhookMetrics interface {
	WebhookEvent(kind, outcome string)
	ObserveWebhook(d time.Duration)
}

type WebhookHandler struct {
	verifier EventVerifier
	sync     *billing.Synchronizer
	metrics  WebhookMetrics
	logger   *slog.Logger
}

func NewWebhookHandler(v EventVerifier, sync *billing.Synchronizer, m WebhookMetrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: v,
		sync:     sync,
		metrics:  m,
		logger:   logger.With("component", "webhook"),
	}
}

// HandleStripeWebhook verifies and applies one Stripe event. Anything that
// gets past signature verification is acknowledged with 200, including
// events that were dropped or failed to apply, so Stripe does not retry a
// delivery that cannot succeed.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			h.logger.Error("webhook panic", "panic", v, "stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook handler failed"})
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Error("webhook body too large", "limit", tooLarge.Limit)
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		h.logger.Warn("webhook without signature", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signature"})
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, sig)
	if err != nil {
		if errors.Is(err, billingstripe.ErrWebhookNotConfigured) {
			h.logger.Error("webhook received but no signing secret configured")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
			return
		}
		h.logger.Warn("webhook signature rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	ev, err := billingstripe.DecodeEvent(event)
	if err != nil {
		h.logger.Warn("dropping malformed event", "event_id", event.ID, "event_type", string(event.Type), "error", err)
		if h.metrics != nil {
			h.metrics.WebhookEvent(ev.Kind.String(), string(billing.OutcomeDropped))
		}
	} else {
		h.sync.Handle(r.Context(), ev)
	}

	if h.metrics != nil {
		h.metrics.ObserveWebhook(time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
