package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/blackmichael/drops-backend/internal/notify"
	"github.com/blackmichael/drops-backend/internal/push"
	"github.com/blackmichael/drops-backend/internal/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		driver      string
		dsn         string
		endpoint    string
		accessToken string
		userID      string
		category    string
		title       string
		body        string
		dryRun      bool
		verbose     bool
	)

	flag.StringVar(&driver, "driver", envOrDefault("DATABASE_DRIVER", sqlstore.DriverPostgres), "Database driver (postgres or sqlite)")
	flag.StringVar(&dsn, "db", envOrDefault("DATABASE_URL", ""), "Database connection string")
	flag.StringVar(&endpoint, "endpoint", envOrDefault("PUSH_ENDPOINT", ""), "FCM v1 send URL")
	flag.StringVar(&accessToken, "token", envOrDefault("PUSH_ACCESS_TOKEN", ""), "OAuth access token for the push endpoint")
	flag.StringVar(&userID, "user", "", "User whose active devices receive the push")
	flag.StringVar(&category, "category", domain.CategoryMessage, "Notification category (dropShared, dropUnlocked, message, friendRequest, friendAccepted)")
	flag.StringVar(&title, "title", "", "Title override (defaults to the category template)")
	flag.StringVar(&body, "body", "", "Body override (defaults to the category template)")
	flag.BoolVar(&dryRun, "dry-run", false, "List the target devices without sending")
	flag.BoolVar(&verbose, "v", false, "Log each delivery")
	flag.Parse()

	if dsn == "" {
		return fmt.Errorf("--db is required (or set DATABASE_URL)")
	}
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if endpoint == "" && !dryRun {
		return fmt.Errorf("--endpoint is required unless --dry-run is set (or set PUSH_ENDPOINT)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	devices, err := store.ActiveDevices(ctx, userID)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	fmt.Printf("Found %d active device(s) for %s\n", len(devices), userID)
	if len(devices) == 0 || dryRun {
		for _, d := range devices {
			fmt.Printf("  %s %s (updated %s)\n", d.ID, d.Platform, d.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}

	var logOut io.Writer = io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	results, err := send(store, push.NewClient(endpoint, accessToken), userID, testNotification(category, title, body), logger)
	if err != nil {
		return err
	}
	for _, result := range []string{metrics.NotificationSent, metrics.NotificationDeactivated, metrics.NotificationFailed, metrics.NotificationNoDevices} {
		if n := results[result]; n > 0 {
			fmt.Printf("  %s: %.0f\n", result, n)
		}
	}
	return nil
}

// send delivers n through a one-shot dispatcher and returns the delivery
// results once every device has been tried.
func send(devices domain.DeviceRegistry, gateway notify.Gateway, userID string, n domain.Notification, logger *slog.Logger) (map[string]float64, error) {
	templates, err := notify.DefaultTemplates()
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	dispatcher := notify.NewDispatcher(devices, gateway, templates, notify.Config{Workers: 1, QueueSize: 1}, logger, m)
	dispatcher.Start()
	dispatcher.Notify(userID, n)
	dispatcher.Close()
	return m.NotificationResults(n.Category)
}

// testNotification fills the template placeholders with sample values.
func testNotification(category, title, body string) domain.Notification {
	return domain.Notification{
		Category: category,
		Title:    title,
		Body:     body,
		Data: map[string]string{
			"senderName":    "Drops",
			"recipientName": "Someone",
			"accepterName":  "Someone",
			"dropTitle":     "Test Drop",
			"preview":       "Test notification",
		},
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
