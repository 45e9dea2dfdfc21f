// Package notify delivers Web Push messages to every stored subscription.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pushsub-go/internal/metrics"
	"pushsub-go/internal/models"
	"pushsub-go/internal/store"
)

// Subscriptions is the part of store.Store the sender needs.
type Subscriptions interface {
	GetPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// Notification is the JSON payload the service worker renders.
type Notification struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// NewPostNotification announces a newly published post.
func NewPostNotification(title, url string) Notification {
	return Notification{
		Title: "New Blog Post",
		Body:  fmt.Sprintf("A new post '%s' has been published.", title),
		URL:   url,
	}
}

// NewCommentNotification announces a comment on a post.
func NewCommentNotification(postTitle, url string) Notification {
	return Notification{
		Title: "New Comment",
		Body:  fmt.Sprintf("New comment on '%s'.", postTitle),
		URL:   url,
	}
}

// Event kinds accepted by ForEvent.
const (
	EventPost    = "post"
	EventComment = "comment"
)

var (
	ErrUnknownEvent   = errors.New("unknown notification event")
	ErrMissingSubject = errors.New("event notifications need a post title")
)

// ForEvent builds the notification for a site event about the post titled
// subject.
func ForEvent(event, subject, url string) (Notification, error) {
	if subject == "" {
		return Notification{}, ErrMissingSubject
	}
	switch event {
	case EventPost:
		return NewPostNotification(subject, url), nil
	case EventComment:
		return NewCommentNotification(subject, url), nil
	default:
		return Notification{}, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// Result counts the outcome of a broadcast.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             time.Duration
	Workers         int
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

type Sender struct {
	subs    Subscriptions
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSender(subs Subscriptions, opts Options, log *zap.Logger, m *metrics.Metrics) *Sender {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Sender{subs: subs, opts: opts, log: log, metrics: m, now: time.Now}
}

type outcome int

const (
	sent outcome = iota
	failed
	removed
)

// Broadcast sends n to every subscription. Subscriptions the push service
// reports as gone, or whose expiration time has passed, are deleted. When the
// store returns some subscriptions along with an error, those are still sent
// to and the load error is returned with the result.
func (s *Sender) Broadcast(ctx context.Context, n Notification) (Result, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return Result{}, fmt.Errorf("encode notification: %w", err)
	}

	subs, loadErr := s.subs.GetPushSubscriptions(ctx)
	if loadErr != nil {
		if len(subs) == 0 {
			return Result{}, fmt.Errorf("load subscriptions: %w", loadErr)
		}
		loadErr = fmt.Errorf("load subscriptions: %w", loadErr)
		s.log.Warn("some subscriptions could not be loaded", zap.Error(loadErr))
	}

	var (
		mu  sync.Mutex
		res Result
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.Workers)
	)
	for _, sub := range subs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return res, ctx.Err()
		}
		wg.Add(1)
		go func(sub models.PushSubscription) {
			defer wg.Done()
			defer func() { <-sem }()

			o := s.deliver(ctx, sub, payload)

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case sent:
				res.Sent++
			case removed:
				res.Removed++
			default:
				res.Failed++
			}
		}(sub)
	}
	wg.Wait()

	s.log.Info("push broadcast finished",
		zap.String("notification_id", n.ID),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("removed", res.Removed))
	return res, loadErr
}

func (s *Sender) deliver(ctx context.Context, sub models.PushSubscription, payload []byte) outcome {
	if sub.Expired(s.now()) {
		s.remove(ctx, sub.Endpoint, "expired")
		return removed
	}

	start := time.Now()
	status, err := s.send(ctx, sub, payload)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		s.log.Warn("failed to send push", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		s.metrics.Delivery(metrics.OutcomeFailed, elapsed)
		return failed
	case status == http.StatusNotFound || status == http.StatusGone:
		s.metrics.Delivery(metrics.OutcomeExpired, elapsed)
		s.remove(ctx, sub.Endpoint, "gone")
		return removed
	case status < 200 || status > 299:
		s.log.Warn("push service rejected message", zap.String("endpoint", sub.Endpoint), zap.Int("status", status))
		s.metrics.Delivery(metrics.OutcomeFailed, elapsed)
		return failed
	}
	s.metrics.Delivery(metrics.OutcomeSent, elapsed)
	return sent
}

func (s *Sender) send(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error) {
	ws := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, ws, &webpush.Options{
		HTTPClient:      s.opts.HTTPClient,
		Subscriber:      s.opts.Subscriber,
		VAPIDPublicKey:  s.opts.VAPIDPublicKey,
		VAPIDPrivateKey: s.opts.VAPIDPrivateKey,
		TTL:             int(s.opts.TTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Sender) remove(ctx context.Context, endpoint, reason string) {
	err := s.subs.DeletePushSubscription(ctx, endpoint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("failed to remove subscription", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}
	s.metrics.SubscriptionRemoved()
	s.log.Info("removed push subscription", zap.String("endpoint", endpoint), zap.String("reason", reason))
}
