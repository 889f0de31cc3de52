// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstore is the durable queue of pending telemetry events:
// an append-only SQLite table whose AUTOINCREMENT row id gives every
// event a unique, strictly increasing id that is never reused, even
// after deletion. The uploader reads watermark-bounded slices of the
// log and deletes exactly the rows the collector acknowledged.
//
// The store itself is safe for concurrent use, but the SDK routes all
// mutations through the reporter's work queue so that appends, session
// bookkeeping, and post-upload deletions observe a single total order.
package eventstore
