package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"

	"pushsub-go/internal/models"
	"pushsub-go/internal/notify"
)

func newNotifyCommand(load loader) *cobra.Command {
	var event, subject, title, body, url string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a notification to every subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := buildNotification(event, subject, title, body, url)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
				return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set to send notifications")
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := newSender(cfg, st, logger, nil).Broadcast(cmd.Context(), n)
			if err != nil && res == (notify.Result{}) {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&event, "event", "", `Site event to announce ("post" or "comment"); replaces --title and --body`)
	cmd.Flags().StringVar(&subject, "subject", "", "Title of the post the event is about")
	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&body, "body", "", "Notification body")
	cmd.Flags().StringVar(&url, "url", "/", "URL opened when the notification is clicked")
	return cmd
}

// buildNotification turns the notify flags into a payload. An event takes
// precedence over an explicit title and body.
func buildNotification(event, subject, title, body, url string) (notify.Notification, error) {
	if event != "" {
		n, err := notify.ForEvent(event, subject, url)
		if err != nil {
			return notify.Notification{}, fmt.Errorf("--event %s: %w", event, err)
		}
		return n, nil
	}
	if strings.TrimSpace(title) == "" {
		return notify.Notification{}, errors.New("--title is required")
	}
	return notify.Notification{Title: title, Body: body, URL: url}, nil
}

func newVAPIDKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair in .env format",
		RunE: func(cmd *cobra.Command, args []string) error {
			privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate VAPID keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
			return nil
		},
	}
}

func newAdminHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-hash",
		Short: "Hash an admin password read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := models.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ADMIN_PASSWORD_HASH=%s\n", hash)
			return nil
		},
	}
}

func newTOTPSetupCommand() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "totp-setup",
		Short: "Generate an admin TOTP secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				account = "admin"
			}
			key, err := models.GenerateTOTPSecret(account, "pushsub")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ADMIN_TOTP_SECRET=%s\n# %s\n", key.Secret(), key.URL())
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", os.Getenv("ADMIN_USERNAME"), "Account name shown in the authenticator app")
	return cmd
}
