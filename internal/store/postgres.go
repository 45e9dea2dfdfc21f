package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"pushsub-go/internal/models"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	migrations := []string{
		`CREATE INDEX IF NOT EXISTS push_subscriptions_user_id_idx ON push_subscriptions (user_id);`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, expiration_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (models.PushSubscription, error) {
	var sub models.PushSubscription
	var userID sql.NullInt64
	var expiration sql.NullTime

	if err := row.Scan(&sub.ID, &userID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &expiration, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return models.PushSubscription{}, err
	}

	if userID.Valid {
		sub.UserID = int(userID.Int64)
	}
	if expiration.Valid {
		t := expiration.Time
		sub.ExpirationTime = &t
	}
	return sub, nil
}

func (s *PostgresStore) SavePushSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	userID := sql.NullInt64{Int64: int64(sub.UserID), Valid: sub.UserID != 0}
	var expiration sql.NullTime
	if sub.ExpirationTime != nil {
		expiration = sql.NullTime{Time: *sub.ExpirationTime, Valid: true}
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, expiration_time, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (endpoint) DO UPDATE SET
		     user_id = COALESCE(EXCLUDED.user_id, push_subscriptions.user_id),
		     p256dh = EXCLUDED.p256dh,
		     auth = EXCLUDED.auth,
		     expiration_time = EXCLUDED.expiration_time,
		     updated_at = NOW()
		 RETURNING `+subscriptionColumns,
		userID, sub.Endpoint, sub.P256dh, sub.Auth, expiration,
	)
	return scanSubscription(row)
}

func (s *PostgresStore) GetPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (s *PostgresStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
