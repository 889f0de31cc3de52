// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package device resolves the stable device identity and the host
// metadata attached to every event. The reporter consumes this as a
// plain value struct: it never probes the host itself, which keeps the
// event envelope deterministic in tests.
package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/meridian-analytics/meridian-go/lib/prefstore"
)

// prefKeyDeviceID is where the resolved id persists so the same
// device reports the same identity across restarts and reinstalls of
// the database file's directory.
const prefKeyDeviceID = "device_id"

// invalidDeviceIDs are known-degenerate identifiers seen in the wild:
// emulator defaults, stripped serials, placeholder values. A stored or
// derived id matching one of these is discarded.
var invalidDeviceIDs = map[string]struct{}{
	"":                 {},
	"unknown":          {},
	"9774d56d682e549c": {},
	"DEFACE":           {},
	"000000000000000":  {},
}

// Info is the metadata stamped onto every event envelope.
type Info struct {
	DeviceID   string
	Platform   string
	Language   string
	Country    string
	AppVersion string
}

// Resolve builds the device Info, resolving (and persisting) the
// device id on first use. appVersion is the host application's own
// version string; the SDK has no way to discover it.
func Resolve(ctx context.Context, prefs *prefstore.Store, appVersion string, logger *slog.Logger) (Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id, err := resolveDeviceID(ctx, prefs, logger)
	if err != nil {
		return Info{}, err
	}

	language, country := parseLocale(os.Getenv("LANG"))

	return Info{
		DeviceID:   id,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Language:   language,
		Country:    country,
		AppVersion: appVersion,
	}, nil
}

// resolveDeviceID returns the persisted id if it is usable, otherwise
// derives one: the host machine id where available, or a random UUID
// marked with an "R" suffix so the backend can tell randomly generated
// identities apart. Whatever wins is persisted before return.
func resolveDeviceID(ctx context.Context, prefs *prefstore.Store, logger *slog.Logger) (string, error) {
	stored, err := prefs.GetString(ctx, prefKeyDeviceID, "")
	if err != nil {
		return "", fmt.Errorf("device: reading stored id: %w", err)
	}
	if ValidDeviceID(stored) {
		return stored, nil
	}

	if id := machineID(); ValidDeviceID(id) {
		if err := prefs.SetString(ctx, prefKeyDeviceID, id); err != nil {
			return "", fmt.Errorf("device: persisting machine id: %w", err)
		}
		return id, nil
	}

	id := uuid.NewString() + "R"
	logger.Info("device: generated random device id")
	if err := prefs.SetString(ctx, prefKeyDeviceID, id); err != nil {
		return "", fmt.Errorf("device: persisting generated id: %w", err)
	}
	return id, nil
}

// ValidDeviceID reports whether id is usable as a device identity.
func ValidDeviceID(id string) bool {
	_, degenerate := invalidDeviceIDs[id]
	return !degenerate
}

// machineID reads the host's machine id where the platform provides
// one. Returns "" when unavailable; the caller falls back to a random
// identity.
func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

// parseLocale splits a POSIX locale string ("en_US.UTF-8") into
// language and country. Either may come back empty.
func parseLocale(locale string) (language, country string) {
	locale, _, _ = strings.Cut(locale, ".")
	locale, _, _ = strings.Cut(locale, "@")
	language, country, _ = strings.Cut(locale, "_")
	if language == "C" || language == "POSIX" {
		return "", ""
	}
	return language, country
}
