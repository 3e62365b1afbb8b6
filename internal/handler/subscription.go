package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/ideacapture/internal/auth"
	"github.com/dukerupert/ideacapture/internal/model"
	"github.com/dukerupert/ideacapture/internal/quota"
)

// SnapshotReader loads (or lazily creates) a user's snapshot.
type SnapshotReader interface {
	GetOrCreate(ctx context.Context, userID string) (*model.Snapshot, error)
}

// QuotaMetrics records gate denials and swallowed counter failures.
type QuotaMetrics interface {
	QuotaDenied(action string)
	SnapshotWriteFailed(source string)
}

type SubscriptionHandler struct {
	gate    *quota.Gate
	store   SnapshotReader
	metrics QuotaMetrics
	logger  *slog.Logger
}

func NewSubscriptionHandler(g *quota.Gate, s SnapshotReader, m QuotaMetrics, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		gate:    g,
		store:   s,
		metrics: m,
		logger:  logger.With("component", "quota"),
	}
}

type subscriptionResponse struct {
	Subscription *model.Snapshot `json:"subscription"`
	Limits       quota.Decision  `json:"limits"`
	TierLimits   tierLimits      `json:"tier_limits"`
}

type tierLimits struct {
	MaxIdeas               int  `json:"max_ideas"`
	MaxRecordingMinutes    int  `json:"max_recording_minutes"`
	MaxRefinementQuestions int  `json:"max_refinement_questions"`
	ValidationAllowed      bool `json:"validation_allowed"`
}

// Get returns the caller's subscription snapshot and what it permits.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	snap, err := h.store.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.logger.Error("load snapshot", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	d := quota.Decide(snap)
	l := quota.LimitsFor(d.Tier)
	writeData(w, http.StatusOK, subscriptionResponse{
		Subscription: snap,
		Limits:       d,
		TierLimits: tierLimits{
			MaxIdeas:               l.MaxIdeas,
			MaxRecordingMinutes:    l.MaxRecordingMinutes,
			MaxRefinementQuestions: l.MaxRefinementQuestions,
			ValidationAllowed:      l.ValidationAllowed,
		},
	})
}

// Check answers whether the caller may perform {action} right now.
func (h *SubscriptionHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	action, ok := quota.ParseAction(r.PathValue("action"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	d, err := h.gate.Check(r.Context(), userID, action)
	var le *quota.LimitError
	switch {
	case errors.As(err, &le):
		if h.metrics != nil {
			h.metrics.QuotaDenied(string(action))
		}
		writeError(w, http.StatusForbidden, le.Error(), map[string]any{"limit": le})
		return
	case err != nil:
		h.logger.Error("evaluate quota", "user_id", userID, "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate quota")
		return
	}
	writeData(w, http.StatusOK, d)
}

// Usage counter endpoints, called by the idea service after its own write
// has succeeded. A failure here is reported but the caller is expected to
// log it and carry on.

func (h *SubscriptionHandler) IdeaCreated(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "increment", h.gate.Increment)
}

func (h *SubscriptionHandler) IdeaDeleted(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "decrement", h.gate.Decrement)
}

func (h *SubscriptionHandler) IdeasCleared(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "reset", func(ctx context.Context, userID string) (int, error) {
		return 0, h.gate.Reset(ctx, userID)
	})
}

func (h *SubscriptionHandler) adjust(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (int, error)) {
	userID := auth.UserID(r.Context())

	n, err := fn(r.Context(), userID)
	if err != nil {
		h.logger.Error("ideas counter update failed", "op", op, "user_id", userID, "error", err)
		if h.metrics != nil {
			h.metrics.SnapshotWriteFailed("counter")
		}
		writeError(w, http.StatusInternalServerError, "failed to update usage")
		return
	}
	writeData(w, http.StatusOK, map[string]int{"ideas_count": n})
}
