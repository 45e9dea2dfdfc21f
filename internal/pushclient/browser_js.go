//go:build js && wasm

package pushclient

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"pushsub-go/internal/models"
)

// Browser is the Runtime and Document of the page the WASM module runs in.
type Browser struct {
	window js.Value
}

func NewBrowser() *Browser {
	return &Browser{window: js.Global()}
}

// Origin is window.location.origin, used as the registrar's base URL.
func (b *Browser) Origin() string {
	return b.window.Get("location").Get("origin").String()
}

func (b *Browser) ServiceWorkerSupported() bool {
	return b.window.Get("navigator").Get("serviceWorker").Truthy() && b.window.Get("PushManager").Truthy()
}

func (b *Browser) RegisterServiceWorker(ctx context.Context, scriptURL, scope string) (Registration, error) {
	options := js.Global().Get("Object").New()
	options.Set("scope", scope)
	reg, err := await(ctx, b.window.Get("navigator").Get("serviceWorker").Call("register", scriptURL, options))
	if err != nil {
		return nil, err
	}
	return &browserRegistration{pushManager: reg.Get("pushManager")}, nil
}

func (b *Browser) Meta(name string) (string, bool) {
	el := b.window.Get("document").Call("querySelector", fmt.Sprintf("meta[name=%q]", name))
	if el.IsNull() || el.IsUndefined() {
		return "", false
	}
	return el.Get("content").String(), true
}

// OnDOMContentLoaded runs fn once the document has been parsed.
func (b *Browser) OnDOMContentLoaded(fn func()) {
	doc := b.window.Get("document")
	if doc.Get("readyState").String() != "loading" {
		go fn()
		return
	}
	var cb js.Func
	cb = js.FuncOf(func(js.Value, []js.Value) any {
		cb.Release()
		go fn()
		return nil
	})
	doc.Call("addEventListener", "DOMContentLoaded", cb)
}

// ConsoleError logs to the browser console.
func (b *Browser) ConsoleError(args ...any) {
	b.window.Get("console").Call("error", args...)
}

type browserRegistration struct {
	pushManager js.Value
}

func (r *browserRegistration) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	v, err := await(ctx, r.pushManager.Call("getSubscription"))
	if err != nil {
		return nil, err
	}
	if v.IsNull() || v.IsUndefined() {
		return nil, nil
	}
	return toSubscription(v)
}

func (r *browserRegistration) Subscribe(ctx context.Context, opts SubscribeOptions) (*models.Subscription, error) {
	key := js.Global().Get("Uint8Array").New(len(opts.ApplicationServerKey))
	js.CopyBytesToJS(key, opts.ApplicationServerKey)

	options := js.Global().Get("Object").New()
	options.Set("userVisibleOnly", opts.UserVisibleOnly)
	options.Set("applicationServerKey", key)

	v, err := await(ctx, r.pushManager.Call("subscribe", options))
	if err != nil {
		return nil, err
	}
	return toSubscription(v)
}

// toSubscription goes through JSON.stringify and keeps those bytes, so the
// POST carries every field the browser serialized.
func toSubscription(v js.Value) (*models.Subscription, error) {
	raw := []byte(js.Global().Get("JSON").Call("stringify", v).String())
	var sub models.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	sub.Raw = json.RawMessage(raw)
	return &sub, nil
}

type jsError struct {
	v js.Value
}

func (e jsError) Error() string {
	if e.v.Type() == js.TypeObject && e.v.Get("message").Type() == js.TypeString {
		return e.v.Get("name").String() + ": " + e.v.Get("message").String()
	}
	return e.v.String()
}

func await(ctx context.Context, promise js.Value) (js.Value, error) {
	type settled struct {
		v   js.Value
		err error
	}
	ch := make(chan settled, 1)

	onResolve := js.FuncOf(func(_ js.Value, args []js.Value) any {
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		ch <- settled{v: v}
		return nil
	})
	onReject := js.FuncOf(func(_ js.Value, args []js.Value) any {
		v := js.Undefined()
		if len(args) > 0 {
			v = args[0]
		}
		ch <- settled{err: jsError{v: v}}
		return nil
	})
	defer onResolve.Release()
	defer onReject.Release()

	promise.Call("then", onResolve, onReject)

	select {
	case s := <-ch:
		return s.v, s.err
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}
