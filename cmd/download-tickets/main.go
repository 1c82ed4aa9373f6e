package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmenon12/download-trainline-tickets/internal/config"
	"github.com/cmenon12/download-trainline-tickets/internal/extract"
	"github.com/cmenon12/download-trainline-tickets/internal/ledger"
	"github.com/cmenon12/download-trainline-tickets/internal/mailbox"
	"github.com/cmenon12/download-trainline-tickets/internal/notify"
	"github.com/cmenon12/download-trainline-tickets/internal/pipeline"
	"github.com/cmenon12/download-trainline-tickets/internal/trainline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	ledgerPath := flag.String("ledger", "", "path to the processed-message ledger (overrides config)")
	since := flag.String("since", "", `lookback window, e.g. "14 days" (overrides config)`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	path := cfg.GetLedgerPath()
	if *ledgerPath != "" {
		path = *ledgerPath
	}
	led, err := ledger.Load(path)
	if err != nil {
		logger.Error("failed to load ledger", "path", path, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded ledger", "path", path, "records", led.Count())

	window := cfg.GetLookback()
	if *since != "" {
		window = *since
	}
	sinceTime, err := config.ParseLookback(window, time.Now())
	if err != nil {
		logger.Error("invalid lookback window", "window", window, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mb, err := mailbox.Connect(mailbox.Options{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: cfg.IMAP.Password,
		UseTLS:   cfg.IMAP.UseTLS,
		Folder:   cfg.IMAP.GetFolder(),
		Sender:   cfg.Filter.GetSender(),
		Subject:  cfg.Filter.GetSubject(),
	}, logger)
	if err != nil {
		logger.Error("failed to connect to mailbox", "error", err)
		os.Exit(1)
	}
	defer mb.Close()

	fetcher := trainline.New(cfg.Trainline.Email, cfg.Trainline.Password, cfg.Trainline.BaseURL, logger)

	var notifier pipeline.Notifier
	if cfg.Pushbullet.Enabled() {
		notifier = notify.NewPushbullet(cfg.Pushbullet.AccessToken, cfg.Pushbullet.GetAPIURL(), logger)
	}

	linkHost := cfg.Filter.GetLinkHost()
	runner := pipeline.New(pipeline.Options{
		Ledger:        led,
		Mailbox:       mb,
		Links:         func(body string) []string { return extract.Links(body, linkHost) },
		Fetcher:       fetcher,
		Notifier:      notifier,
		RecordSkipped: cfg.RecordSkipped,
		Logger:        logger,
	})

	summary, err := runner.Run(ctx, sinceTime)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}

	// Per-message failures are retried on the next invocation; they do not
	// change the exit code.
	logger.Info("run complete",
		"window", window,
		"candidates", summary.Candidates,
		"already_seen", summary.AlreadySeen,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
