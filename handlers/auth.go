package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"mentorbot/config"
	"mentorbot/middleware"
)

// AuthHandler exchanges the shared service secret for a short-lived JWT used
// by the ops endpoints.
type AuthHandler struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewAuthHandler(cfg config.Config, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{cfg: cfg, logger: logger.With("component", "auth")}
}

// Token handles POST /api/auth/token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.cfg.ServiceSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.cfg.ServiceSecret)) != 1 {
		h.logger.Warn("token exchange rejected")
		jsonError(w, http.StatusUnauthorized, "invalid secret")
		return
	}

	token, err := middleware.GenerateToken("ops")
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
