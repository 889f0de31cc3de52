// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Command meridian is a small operational tool around the Meridian
// client: it logs events, drives session boundaries, and flushes the
// queue, all against the same database an embedding application uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/meridian-analytics/meridian-go/lib/config"
	"github.com/meridian-analytics/meridian-go/lib/reporter"
	"github.com/meridian-analytics/meridian-go/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return fmt.Errorf("subcommand required")
	}
	switch args[0] {
	case "log":
		return cmdLog(args[1:])
	case "session":
		return cmdSession(args[1:])
	case "upload":
		return cmdUpload(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "version", "--version":
		fmt.Println(version.Full())
		return nil
	case "help", "--help", "-h":
		usage(os.Stdout)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func usage(w *os.File) {
	fmt.Fprint(w, `usage: meridian <subcommand> [flags]

Subcommands:
  log <event-type>   queue an event (repeatable --prop key=value)
  session start      open or resume a session
  session end        close the current session
  upload             flush queued events to the collector
  status             show queue depth and device identity
  version            show build version information

Every subcommand takes --config pointing at a YAML configuration file.
`)
}

// commonFlags registers the flags shared by every subcommand on the
// given flag set and returns the config path destination.
func commonFlags(flags *pflag.FlagSet) *string {
	return flags.String("config", "meridian.yaml", "path to the YAML configuration file")
}

// openClient loads the configuration and builds a client from it.
func openClient(configPath string) (*reporter.Client, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	return reporter.New(context.Background(), reporter.Config{
		APIKey:       cfg.APIKey,
		DatabasePath: cfg.DatabasePath,
		Endpoint:     cfg.Endpoint,
		AppVersion:   cfg.AppVersion,
		Logger:       logger,

		UploadThreshold:    cfg.Tuning.UploadThreshold,
		UploadMaxBatch:     cfg.Tuning.UploadMaxBatch,
		EventMaxCount:      cfg.Tuning.EventMaxCount,
		EventRemoveBatch:   cfg.Tuning.EventRemoveBatch,
		QueueCapacity:      cfg.Tuning.QueueCapacity,
		UploadPeriod:       time.Duration(cfg.Tuning.UploadPeriod),
		SessionMergeWindow: time.Duration(cfg.Tuning.SessionMergeWindow),
		SessionTimeout:     time.Duration(cfg.Tuning.SessionTimeout),
	})
}

func cmdLog(args []string) error {
	flags := pflag.NewFlagSet("log", pflag.ContinueOnError)
	configPath := commonFlags(flags)
	props := flags.StringArray("prop", nil, "event property as key=value (repeatable)")
	propsJSON := flags.String("json", "", "event properties as a JSON object (merged after --prop)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("log: exactly one event type is required")
	}
	eventType := flags.Arg(0)

	properties := map[string]any{}
	for _, pair := range *props {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return fmt.Errorf("log: malformed --prop %q, want key=value", pair)
		}
		properties[key] = value
	}
	if *propsJSON != "" {
		if err := json.Unmarshal([]byte(*propsJSON), &properties); err != nil {
			return fmt.Errorf("log: parsing --json: %w", err)
		}
	}

	client, err := openClient(*configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.LogEventWithProperties(eventType, properties); err != nil {
		return err
	}
	// Close drains the work queue, so the event is on disk by the time
	// we report success.
	if err := client.Close(); err != nil {
		return err
	}
	fmt.Printf("queued %s\n", eventType)
	return nil
}

func cmdSession(args []string) error {
	flags := pflag.NewFlagSet("session", pflag.ContinueOnError)
	configPath := commonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("session: expected start or end")
	}

	client, err := openClient(*configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	switch flags.Arg(0) {
	case "start":
		client.StartSession()
	case "end":
		client.EndSession()
	default:
		return fmt.Errorf("session: expected start or end, got %q", flags.Arg(0))
	}
	if err := client.Close(); err != nil {
		return err
	}
	fmt.Printf("session %s recorded\n", flags.Arg(0))
	return nil
}

func cmdUpload(args []string) error {
	flags := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	configPath := commonFlags(flags)
	wait := flags.Duration("wait", 30*time.Second, "how long to wait for the queue to empty")
	if err := flags.Parse(args); err != nil {
		return err
	}

	client, err := openClient(*configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	before, err := client.PendingCount(context.Background())
	if err != nil {
		return err
	}
	if before == 0 {
		fmt.Println("nothing to upload")
		return nil
	}

	client.UploadEvents()

	// Delivery is asynchronous; poll the queue depth until it settles
	// or the wait budget runs out. Events held back behind a pending
	// session end stay queued, so a nonzero remainder is not an error.
	deadline := time.Now().Add(*wait)
	remaining := before
	for time.Now().Before(deadline) {
		remaining, err = client.PendingCount(context.Background())
		if err != nil {
			return err
		}
		if remaining == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Printf("uploaded %d of %d queued events\n", before-remaining, before)
	return nil
}

func cmdStatus(args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	configPath := commonFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	client, err := openClient(*configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	pending, err := client.PendingCount(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("device:  %s\npending: %d\n", client.DeviceID(), pending)
	return nil
}
