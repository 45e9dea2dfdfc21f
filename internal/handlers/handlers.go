package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pushsub-go/internal/metrics"
	"pushsub-go/internal/models"
	"pushsub-go/internal/notify"
	"pushsub-go/internal/store"
)

// Broadcaster fans a notification out to all subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, n notify.Notification) (notify.Result, error)
}

type Options struct {
	VAPIDPublicKey string
	SessionSecret  string
	// SecureCookies marks the session cookie Secure; set when served over TLS.
	SecureCookies bool
	Admin         models.Admin
	// NotifySecret enables HMAC-signed calls to /api/notify without a session.
	NotifySecret string
	// MetricsHandler serves /metrics; nil uses the default registry.
	MetricsHandler http.Handler
}

type Handler struct {
	Store    store.Store
	Notifier Broadcaster
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Tmpl     *template.Template

	opts     Options
	sessions *sessions.CookieStore
}

func NewHandler(s store.Store, n Broadcaster, log *zap.Logger, m *metrics.Metrics, opts Options) (*Handler, error) {
	tmpl, err := template.ParseFS(webFS, "web/templates/index.html")
	if err != nil {
		return nil, err
	}

	cs := sessions.NewCookieStore([]byte(opts.SessionSecret))
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((12 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	return &Handler{
		Store:    s,
		Notifier: n,
		Log:      log,
		Metrics:  m,
		Tmpl:     tmpl,
		opts:     opts,
		sessions: cs,
	}, nil
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.IndexHandler)
	r.Get("/healthz", h.HealthHandler)
	r.Handle("/static/*", staticHandler())

	metricsHandler := h.opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Get("/api/vapid-key", h.GetVAPIDKeyHandler)
	r.Post("/subscribe", h.SubscribePushHandler)
	r.Delete("/subscribe", h.UnsubscribePushHandler)

	r.Post("/admin/login", h.LoginHandler)
	r.Post("/admin/logout", h.LogoutHandler)
	r.With(h.AdminMiddleware).Post("/api/notify", h.NotifyHandler)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.Tmpl.Execute(w, map[string]any{"VAPIDPublicKey": h.opts.VAPIDPublicKey}); err != nil {
		h.Log.Error("template error", zap.Error(err))
	}
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		h.Log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
