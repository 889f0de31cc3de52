// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SDK's SQLite database with the pragmas
// every connection needs. The event log is written from exactly one
// goroutine (the reporter's work queue consumer), so the default pool
// is small: one connection for that writer plus one spare for
// out-of-band reads such as status queries in tests and the CLI.
package sqlitepool
