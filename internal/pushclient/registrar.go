// Package pushclient ensures a browser holds a Web Push subscription and that
// the server has a copy of it.
package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pushsub-go/internal/models"
)

const (
	// ServiceWorkerPath is where the worker script is served.
	ServiceWorkerPath = "/static/js/service-worker.js"
	// ServiceWorkerScope lets the worker control the whole origin. The server
	// allows it with a Service-Worker-Allowed header.
	ServiceWorkerScope = "/"
	// SubscribePath receives the subscription JSON.
	SubscribePath = "/subscribe"
	// VAPIDMetaName is the <meta name> carrying the server's public key.
	VAPIDMetaName = "vapid-key"
)

var (
	ErrMissingVAPIDKey = errors.New(`meta[name="vapid-key"] not found`)
	ErrNoSubscription  = errors.New("push manager returned no subscription")
)

// SubscribeOptions mirrors PushManager.subscribe options.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// Runtime is the browser environment.
type Runtime interface {
	ServiceWorkerSupported() bool
	RegisterServiceWorker(ctx context.Context, scriptURL, scope string) (Registration, error)
}

// Registration is a service worker registration's push manager.
type Registration interface {
	// GetSubscription returns nil, nil when the browser has no subscription.
	GetSubscription(ctx context.Context) (*models.Subscription, error)
	Subscribe(ctx context.Context, opts SubscribeOptions) (*models.Subscription, error)
}

// Document gives access to page metadata.
type Document interface {
	Meta(name string) (string, bool)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Registrar struct {
	runtime Runtime
	doc     Document
	client  HTTPDoer
	baseURL string
	log     *zap.Logger
}

// NewRegistrar builds a registrar. baseURL may be empty when the client
// resolves relative URLs itself, as the browser fetch transport does.
func NewRegistrar(rt Runtime, doc Document, client HTTPDoer, baseURL string, log *zap.Logger) *Registrar {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{
		runtime: rt,
		doc:     doc,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

// Run registers the service worker and, when the browser has no push
// subscription yet, subscribes and posts the result to the server. Each step
// waits for the previous one; errors are returned as-is without retry.
func (r *Registrar) Run(ctx context.Context) error {
	if !r.runtime.ServiceWorkerSupported() {
		return nil
	}

	reg, err := r.runtime.RegisterServiceWorker(ctx, ServiceWorkerPath, ServiceWorkerScope)
	if err != nil {
		return fmt.Errorf("register service worker: %w", err)
	}

	sub, err := reg.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub != nil {
		r.log.Debug("push subscription already present", zap.String("endpoint", sub.Endpoint))
		return nil
	}

	key, ok := r.doc.Meta(VAPIDMetaName)
	if !ok {
		return ErrMissingVAPIDKey
	}
	converted, err := URLBase64ToBytes(key)
	if err != nil {
		return fmt.Errorf("decode VAPID key: %w", err)
	}

	sub, err = reg.Subscribe(ctx, SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: converted,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if sub == nil {
		return ErrNoSubscription
	}

	return r.post(ctx, sub)
}

// post sends the subscription to the server. The browser's own JSON is sent
// verbatim when available. The response is not inspected.
func (r *Registrar) post(ctx context.Context, sub *models.Subscription) error {
	body := []byte(sub.Raw)
	if len(body) == 0 {
		var err error
		if body, err = json.Marshal(sub); err != nil {
			return fmt.Errorf("encode subscription: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+SubscribePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post subscription: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	r.log.Info("push subscription sent", zap.String("endpoint", sub.Endpoint))
	return nil
}
