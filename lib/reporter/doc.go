// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package reporter is the Meridian client: it accepts application
// events, queues them durably in SQLite, derives session boundaries,
// and ships checksummed batches to the collector with at-least-once
// delivery (the collector deduplicates).
//
// A Client owns all state — there are no package-level globals. Calls
// like LogEvent validate their arguments synchronously, then enqueue a
// unit onto the client's work queue and return. One consumer goroutine
// executes every unit in order, so store mutations and session
// transitions never race. The only state shared across goroutines is
// a pair of atomic flags: "uploading" (at most one in-flight upload)
// and "update scheduled" (at most one armed debounce timer).
//
// The HTTP POST itself runs on its own goroutine so a slow collector
// never stalls event logging; its completion re-enters the work queue
// before touching the store again.
package reporter
