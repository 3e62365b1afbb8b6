package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/ideacapture/internal/auth"
	"github.com/dukerupert/ideacapture/internal/model"
)

type SettingsStore interface {
	GetOrCreateSettings(ctx context.Context, userID string) (*model.Settings, error)
	UpdatePreferences(ctx context.Context, userID string, validationEnabled *bool, defaultView *model.View) (*model.Settings, error)
}

type SettingsHandler struct {
	store  SettingsStore
	logger *slog.Logger
}

func NewSettingsHandler(s SettingsStore, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{store: s, logger: logger.With("component", "settings")}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	settings, err := h.store.GetOrCreateSettings(r.Context(), userID)
	if err != nil {
		h.logger.Error("get settings", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch settings")
		return
	}
	writeData(w, http.StatusOK, settings)
}

type updateSettingsRequest struct {
	ValidationEnabled *bool   `json:"validation_enabled"`
	DefaultView       *string `json:"default_view" validate:"omitempty,oneof=list grid mindmap"`
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "default_view must be one of: list, grid, mindmap")
		return
	}
	if req.ValidationEnabled == nil && req.DefaultView == nil {
		writeError(w, http.StatusBadRequest, "no valid fields to update")
		return
	}

	var view *model.View
	if req.DefaultView != nil {
		v := model.View(*req.DefaultView)
		view = &v
	}

	settings, err := h.store.UpdatePreferences(r.Context(), userID, req.ValidationEnabled, view)
	if err != nil {
		h.logger.Error("update settings", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	writeData(w, http.StatusOK, settings)
}
