package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pushsub-go/internal/models"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no subscription matches the endpoint.
var ErrNotFound = errors.New("subscription not found")

const (
	subscriptionIndexKey = "push:subscriptions"
	subscriptionIDKey    = "push:next_id"
	eventsChannel        = "push_events"
)

// Store persists push subscriptions, one per endpoint.
type Store interface {
	// SavePushSubscription inserts sub or updates the row with the same
	// endpoint, returning the stored record.
	SavePushSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error)
	GetPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	Ping(ctx context.Context) error
	Close() error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func subscriptionKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return "push:sub:" + hex.EncodeToString(sum[:])
}

// maxSaveAttempts bounds the optimistic-lock retries of a save.
const maxSaveAttempts = 10

// SavePushSubscription upserts by endpoint under WATCH, so concurrent saves of
// the same endpoint agree on one ID. New endpoints are published on
// push_events.
func (s *RedisStore) SavePushSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	key := subscriptionKey(sub.Endpoint)

	for i := 0; i < maxSaveAttempts; i++ {
		saved, created, err := s.save(ctx, key, sub)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.PushSubscription{}, err
		}

		if created {
			// Listeners are best effort
			s.client.Publish(ctx, eventsChannel, saved.Endpoint)
		}
		return saved, nil
	}
	return models.PushSubscription{}, fmt.Errorf("save %s: %w", key, redis.TxFailedErr)
}

func (s *RedisStore) save(ctx context.Context, key string, sub models.PushSubscription) (models.PushSubscription, bool, error) {
	created := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now().UTC()

		existing, err := get(ctx, tx, key)
		switch {
		case err == nil:
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			if sub.UserID == 0 {
				sub.UserID = existing.UserID
			}
		case errors.Is(err, ErrNotFound):
			id, err := tx.Incr(ctx, subscriptionIDKey).Result()
			if err != nil {
				return err
			}
			sub.ID = int(id)
			sub.CreatedAt = now
			created = true
		default:
			return err
		}
		sub.UpdatedAt = now

		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, subscriptionIndexKey, key)
			return nil
		})
		return err
	}, key)
	return sub, created, err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, key string) (models.PushSubscription, error) {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return models.PushSubscription{}, ErrNotFound
	}
	if err != nil {
		return models.PushSubscription{}, err
	}

	var sub models.PushSubscription
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return models.PushSubscription{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return sub, nil
}

// GetPushSubscriptions lists every readable subscription. Entries that fail
// to load are reported together in the error alongside the ones that did.
func (s *RedisStore) GetPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	keys, err := s.client.SMembers(ctx, subscriptionIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var (
		subs []models.PushSubscription
		errs []error
	)
	for _, key := range keys {
		sub, err := get(ctx, s.client, key)
		switch {
		case errors.Is(err, ErrNotFound):
			// Dangling index entry
			if err := s.client.SRem(ctx, subscriptionIndexKey, key).Err(); err != nil {
				errs = append(errs, fmt.Errorf("drop %s from index: %w", key, err))
			}
		case err != nil:
			errs = append(errs, err)
		default:
			subs = append(subs, sub)
		}
	}
	return subs, errors.Join(errs...)
}

func (s *RedisStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	key := subscriptionKey(endpoint)

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, key)
	pipe.SRem(ctx, subscriptionIndexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// NewSubscriptions streams the endpoints of newly created subscriptions. The
// channel is subscribed when this returns and closes once ctx is done.
func (s *RedisStore) NewSubscriptions(ctx context.Context) (<-chan string, error) {
	ps := s.client.Subscribe(ctx, eventsChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", eventsChannel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
