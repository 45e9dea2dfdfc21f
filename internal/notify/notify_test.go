package notify_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"pushsub-go/internal/metrics"
	"pushsub-go/internal/models"
	"pushsub-go/internal/notify"
	"pushsub-go/internal/store"
)

type memSubs struct {
	mu      sync.Mutex
	subs    map[string]models.PushSubscription
	deleted []string
	loadErr error
}

func newMemSubs(subs ...models.PushSubscription) *memSubs {
	m := &memSubs{subs: map[string]models.PushSubscription{}}
	for _, s := range subs {
		m.subs[s.Endpoint] = s
	}
	return m
}

func (m *memSubs) GetPushSubscriptions(context.Context) ([]models.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PushSubscription
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, m.loadErr
}

func (m *memSubs) DeletePushSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[endpoint]; !ok {
		return store.ErrNotFound
	}
	delete(m.subs, endpoint)
	m.deleted = append(m.deleted, endpoint)
	return nil
}

// newSubscriberKeys returns base64url p256dh and auth values a push service
// would accept.
func newSubscriberKeys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscriber key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(auth)
}

func TestBroadcastOutcomes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits []string
	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()

		if r.Header.Get("Content-Encoding") != "aes128gcm" {
			t.Errorf("Content-Encoding = %q", r.Header.Get("Content-Encoding"))
		}
		if r.Header.Get("TTL") != "60" {
			t.Errorf("TTL = %q, want 60", r.Header.Get("TTL"))
		}
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusCreated)
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer push.Close()

	p256dh, auth := newSubscriberKeys(t)
	past := time.Now().Add(-time.Hour)
	subs := newMemSubs(
		models.PushSubscription{Endpoint: push.URL + "/ok", P256dh: p256dh, Auth: auth},
		models.PushSubscription{Endpoint: push.URL + "/gone", P256dh: p256dh, Auth: auth},
		models.PushSubscription{Endpoint: push.URL + "/broken", P256dh: p256dh, Auth: auth},
		models.PushSubscription{Endpoint: push.URL + "/expired", P256dh: p256dh, Auth: auth, ExpirationTime: &past},
	)

	vapidPriv, vapidPub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	sender := notify.NewSender(subs, notify.Options{
		VAPIDPublicKey:  vapidPub,
		VAPIDPrivateKey: vapidPriv,
		Subscriber:      "mailto:ops@example.com",
		TTL:             time.Minute,
		Workers:         2,
		HTTPClient:      push.Client(),
	}, zap.NewNop(), m)

	res, err := sender.Broadcast(context.Background(), notify.NewPostNotification("Hello", "/post/1"))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	want := notify.Result{Sent: 1, Failed: 1, Removed: 2}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}

	sort.Strings(subs.deleted)
	if len(subs.deleted) != 2 || subs.deleted[0] != push.URL+"/expired" || subs.deleted[1] != push.URL+"/gone" {
		t.Fatalf("deleted = %v", subs.deleted)
	}

	for _, h := range hits {
		if h == "/expired" {
			t.Fatal("expired subscription was sent a message")
		}
	}
	if got := testutil.ToFloat64(m.SubscriptionsRemoved); got != 2 {
		t.Errorf("removed metric = %v, want 2", got)
	}
}

func TestBroadcastWithNoSubscriptions(t *testing.T) {
	t.Parallel()

	sender := notify.NewSender(newMemSubs(), notify.Options{}, zap.NewNop(), nil)
	res, err := sender.Broadcast(context.Background(), notify.Notification{Title: "t"})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res != (notify.Result{}) {
		t.Fatalf("result = %+v, want zero", res)
	}
}

func TestNotificationBuilders(t *testing.T) {
	t.Parallel()

	post := notify.NewPostNotification("Go Tips", "/post/3")
	if post.Body != "A new post 'Go Tips' has been published." || post.URL != "/post/3" {
		t.Errorf("post notification = %+v", post)
	}
	comment := notify.NewCommentNotification("Go Tips", "/post/3")
	if comment.Title != "New Comment" || comment.Body != "New comment on 'Go Tips'." {
		t.Errorf("comment notification = %+v", comment)
	}
}

func TestBroadcastSendsLoadedSubscriptionsDespiteLoadError(t *testing.T) {
	t.Parallel()

	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer push.Close()

	p256dh, auth := newSubscriberKeys(t)
	subs := newMemSubs(models.PushSubscription{Endpoint: push.URL + "/ok", P256dh: p256dh, Auth: auth})
	corrupt := errors.New("decode push:sub:abc: invalid character")
	subs.loadErr = corrupt

	vapidPriv, vapidPub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}
	sender := notify.NewSender(subs, notify.Options{
		VAPIDPublicKey:  vapidPub,
		VAPIDPrivateKey: vapidPriv,
		Subscriber:      "mailto:ops@example.com",
		HTTPClient:      push.Client(),
	}, zap.NewNop(), nil)

	res, err := sender.Broadcast(context.Background(), notify.Notification{Title: "t"})
	if !errors.Is(err, corrupt) {
		t.Fatalf("err = %v, want load error", err)
	}
	if res.Sent != 1 {
		t.Fatalf("result = %+v, want the loaded subscription sent", res)
	}
}

func TestBroadcastFailsWhenNothingLoads(t *testing.T) {
	t.Parallel()

	subs := newMemSubs()
	subs.loadErr = errors.New("connection refused")
	sender := notify.NewSender(subs, notify.Options{}, zap.NewNop(), nil)

	if _, err := sender.Broadcast(context.Background(), notify.Notification{Title: "t"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestForEvent(t *testing.T) {
	t.Parallel()

	n, err := notify.ForEvent(notify.EventPost, "Go Tips", "/post/3")
	if err != nil || n != notify.NewPostNotification("Go Tips", "/post/3") {
		t.Fatalf("post event = %+v, %v", n, err)
	}
	n, err = notify.ForEvent(notify.EventComment, "Go Tips", "/post/3")
	if err != nil || n != notify.NewCommentNotification("Go Tips", "/post/3") {
		t.Fatalf("comment event = %+v, %v", n, err)
	}
	if _, err := notify.ForEvent("like", "Go Tips", ""); !errors.Is(err, notify.ErrUnknownEvent) {
		t.Fatalf("unknown event err = %v", err)
	}
	if _, err := notify.ForEvent(notify.EventPost, "", ""); !errors.Is(err, notify.ErrMissingSubject) {
		t.Fatalf("missing subject err = %v", err)
	}
}
