package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"pushsub-go/internal/models"
)

const (
	sessionName = "pushsub-session"
	adminUserID = 1
	roleAdmin   = "admin"
)

// LoginHandler handles admin login
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	admin := h.opts.Admin
	if req.Username != admin.Username || !admin.CheckPassword(req.Password) {
		h.Log.Info("admin login rejected", zap.String("username", req.Username))
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if admin.TOTPEnabled() {
		if req.Code == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"requires_2fa": true})
			return
		}
		if !models.VerifyTOTPCode(admin.TOTPSecret, req.Code) {
			http.Error(w, "Invalid verification code", http.StatusUnauthorized)
			return
		}
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["user_id"] = adminUserID
	session.Values["username"] = admin.Username
	session.Values["role"] = roleAdmin
	if err := session.Save(r, w); err != nil {
		h.Log.Error("failed to save session", zap.Error(err))
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"username": admin.Username,
	})
}

// LogoutHandler handles logout
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		h.Log.Warn("failed to clear session", zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminMiddleware admits an admin session or, when a notify secret is
// configured, a request signed with it.
func (h *Handler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
		if h.opts.NotifySecret != "" && r.Header.Get(signatureHeader) != "" {
			if !validateSharedSecret(r, h.opts.NotifySecret) {
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		userID, _, role := h.currentUser(r)
		if userID == 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if role != roleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the user from the session
func (h *Handler) currentUser(r *http.Request) (int, string, string) {
	session, _ := h.sessions.Get(r, sessionName)
	userID, _ := session.Values["user_id"].(int)
	username, _ := session.Values["username"].(string)
	role, _ := session.Values["role"].(string)
	return userID, username, role
}
