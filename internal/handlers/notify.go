package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"pushsub-go/internal/notify"
)

const maxAdminBody = 16 << 10

// NotifyHandler broadcasts a notification to every subscriber. Either a
// title is given, or an event ("post" or "comment") with the post title in
// subject.
func (h *Handler) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event   string `json:"event"`
		Subject string `json:"subject"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	n := notify.Notification{Title: req.Title, Body: req.Body, URL: req.URL}
	if req.Event != "" {
		var err error
		if n, err = notify.ForEvent(req.Event, req.Subject, req.URL); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	res, err := h.Notifier.Broadcast(r.Context(), n)
	if err != nil {
		h.Log.Error("broadcast failed", zap.Error(err))
		if res == (notify.Result{}) {
			http.Error(w, "Failed to send notifications", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, res)
}
