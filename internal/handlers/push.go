package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pushsub-go/internal/models"
	"pushsub-go/internal/store"
)

const maxSubscriptionBody = 8 << 10

// GetVAPIDKeyHandler returns the public VAPID key
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"publicKey": h.opts.VAPIDPublicKey,
	})
}

// SubscribePushHandler saves a push subscription. Posting the same endpoint
// again updates the stored keys.
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Subscription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Associate with the logged-in user, if any
	userID, _, _ := h.currentUser(r)

	sub, err := h.Store.SavePushSubscription(r.Context(), models.NewPushSubscription(userID, req))
	if err != nil {
		h.Log.Error("failed to save subscription", zap.String("endpoint", req.Endpoint), zap.Error(err))
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}
	h.Metrics.SubscriptionSaved()
	h.Log.Info("push subscription saved", zap.Int("id", sub.ID), zap.String("endpoint", sub.Endpoint))

	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "id": sub.ID})
}

// UnsubscribePushHandler removes a push subscription by endpoint.
func (h *Handler) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscriptionBody)).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := h.Store.DeletePushSubscription(r.Context(), req.Endpoint)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.Error("failed to delete subscription", zap.String("endpoint", req.Endpoint), zap.Error(err))
		http.Error(w, "Failed to delete subscription", http.StatusInternalServerError)
		return
	}
	h.Metrics.SubscriptionRemoved()

	w.WriteHeader(http.StatusNoContent)
}
