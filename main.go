package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pushsub-go/internal/config"
	"pushsub-go/internal/handlers"
	"pushsub-go/internal/logging"
	"pushsub-go/internal/metrics"
	"pushsub-go/internal/models"
	"pushsub-go/internal/notify"
	"pushsub-go/internal/store"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "pushsub",
		Short:         "Web Push subscription service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, nil, err
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newNotifyCommand(load))
	rootCmd.AddCommand(newVAPIDKeysCommand())
	rootCmd.AddCommand(newAdminHashCommand())
	rootCmd.AddCommand(newTOTPSetupCommand())

	return rootCmd
}

type loader func() (*config.Config, *zap.Logger, error)

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.EnsureVAPIDKeys(); err != nil {
		return err
	}
	if cfg.VAPIDGenerated {
		logger.Warn("VAPID keys not found in environment; generated a new pair. Add them to your .env file to keep existing subscriptions working",
			zap.String("VAPID_PUBLIC_KEY", cfg.VAPIDPublicKey),
			zap.String("VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend))

	m := metrics.New(prometheus.DefaultRegisterer)
	sender := newSender(cfg, st, logger, m)

	if rs, ok := st.(*store.RedisStore); ok {
		events, err := rs.NewSubscriptions(ctx)
		if err != nil {
			return err
		}
		go logNewSubscriptions(events, logger, m)
	}

	h, err := handlers.NewHandler(st, sender, logger, m, handlers.Options{
		VAPIDPublicKey: cfg.VAPIDPublicKey,
		SessionSecret:  cfg.SessionSecret,
		SecureCookies:  strings.HasPrefix(cfg.BaseURL, "https://"),
		Admin: models.Admin{
			Username:     cfg.AdminUsername,
			PasswordHash: cfg.AdminPasswordHash,
			TOTPSecret:   cfg.AdminTOTPSecret,
		},
		NotifySecret: cfg.NotifySecret,
	})
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs := store.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return rs, nil
	default:
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return pg, nil
	}
}

func newSender(cfg *config.Config, st store.Store, logger *zap.Logger, m *metrics.Metrics) *notify.Sender {
	return notify.NewSender(st, notify.Options{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubject,
		TTL:             cfg.PushTTL,
		Workers:         cfg.PushWorkers,
		HTTPClient:      notify.NewHTTPClient(30 * time.Second),
	}, logger, m)
}

// logNewSubscriptions drains the store's new-subscription feed until it
// closes.
func logNewSubscriptions(events <-chan string, logger *zap.Logger, m *metrics.Metrics) {
	for endpoint := range events {
		logger.Info("new push subscription", zap.String("endpoint", endpoint))
		m.SubscriptionAnnounced()
	}
}
