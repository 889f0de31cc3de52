// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/meridian-analytics/meridian-go/lib/sqlitepool"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "events.db"),
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store, err := Open(context.Background(), pool, nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return store
}

func mustAppend(t *testing.T, store *Store, payload string) int64 {
	t.Helper()
	id, err := store.Append(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("Append(%s): %v", payload, err)
	}
	return id
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	store := openTestStore(t)

	var previous int64
	for i := 0; i < 10; i++ {
		id := mustAppend(t, store, fmt.Sprintf(`{"n":%d}`, i))
		if id <= previous {
			t.Fatalf("id %d not greater than previous %d", id, previous)
		}
		previous = id
	}
}

func TestAppendRejectsEmptyPayload(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Append(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestIDsNeverReusedAfterDeletion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustAppend(t, store, `{"a":1}`)
	}
	if _, err := store.DeleteUpTo(ctx, 5); err != nil {
		t.Fatalf("DeleteUpTo: %v", err)
	}

	id := mustAppend(t, store, `{"a":2}`)
	if id <= 5 {
		t.Fatalf("id %d reused after deletion", id)
	}
}

func TestCountPending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	count, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 0 {
		t.Fatalf("empty store count = %d", count)
	}

	for i := 0; i < 7; i++ {
		mustAppend(t, store, `{"a":1}`)
	}

	count, err = store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}
}

func TestNthIDFromOldest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, mustAppend(t, store, `{"a":1}`))
	}

	got, err := store.NthIDFromOldest(ctx, 3)
	if err != nil {
		t.Fatalf("NthIDFromOldest(3): %v", err)
	}
	if got != ids[2] {
		t.Fatalf("NthIDFromOldest(3) = %d, want %d", got, ids[2])
	}

	got, err = store.NthIDFromOldest(ctx, 6)
	if err != nil {
		t.Fatalf("NthIDFromOldest(6): %v", err)
	}
	if got != NoRows {
		t.Fatalf("NthIDFromOldest past end = %d, want NoRows", got)
	}

	if _, err := store.NthIDFromOldest(ctx, 0); err == nil {
		t.Fatal("expected error for n < 1")
	}
}

func TestReadSinceVariants(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		mustAppend(t, store, fmt.Sprintf(`{"n":%d}`, i))
	}

	tests := []struct {
		name      string
		afterID   int64
		limit     int
		wantCount int
		wantFirst int64
		wantMax   int64
	}{
		{"all", -1, 0, 10, 1, 10},
		{"bounded", 4, 0, 6, 5, 10},
		{"limited", -1, 3, 3, 1, 3},
		{"bounded and limited", 4, 2, 2, 5, 6},
		{"bound past end", 10, 0, 0, 0, NoRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxID, events, err := store.ReadSince(ctx, tt.afterID, tt.limit)
			if err != nil {
				t.Fatalf("ReadSince(%d, %d): %v", tt.afterID, tt.limit, err)
			}
			if maxID != tt.wantMax {
				t.Fatalf("maxID = %d, want %d", maxID, tt.wantMax)
			}
			if len(events) != tt.wantCount {
				t.Fatalf("len(events) = %d, want %d", len(events), tt.wantCount)
			}
			if tt.wantCount > 0 && events[0].ID != tt.wantFirst {
				t.Fatalf("first id = %d, want %d", events[0].ID, tt.wantFirst)
			}
			for _, event := range events {
				if event.ID <= tt.afterID {
					t.Fatalf("event id %d <= afterID %d", event.ID, tt.afterID)
				}
			}
		})
	}
}

func TestReadSinceAscendingOrder(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 6; i++ {
		mustAppend(t, store, `{"a":1}`)
	}

	_, events, err := store.ReadSince(context.Background(), -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("ids out of order: %d after %d", events[i].ID, events[i-1].ID)
		}
	}
}

func TestReadSinceAugmentsEventID(t *testing.T) {
	store := openTestStore(t)

	id := mustAppend(t, store, `{"event_type":"click","timestamp":"1700000000000"}`)

	_, events, err := store.ReadSince(context.Background(), -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d", len(events))
	}

	gotID, ok := events[0].Fields["event_id"].(int64)
	if !ok {
		t.Fatalf("event_id has type %T", events[0].Fields["event_id"])
	}
	if gotID != id {
		t.Fatalf("event_id = %d, want %d", gotID, id)
	}
	if events[0].Fields["event_type"] != "click" {
		t.Fatalf("event_type = %v", events[0].Fields["event_type"])
	}
}

func TestReadSincePreservesNumberPrecision(t *testing.T) {
	store := openTestStore(t)

	// 2^60 is not exactly representable as float64.
	mustAppend(t, store, `{"big":1152921504606846977}`)

	_, events, err := store.ReadSince(context.Background(), -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}

	number, ok := events[0].Fields["big"].(json.Number)
	if !ok {
		t.Fatalf("big has type %T", events[0].Fields["big"])
	}
	if number.String() != "1152921504606846977" {
		t.Fatalf("big = %s", number)
	}
}

func TestDeleteUpToIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		mustAppend(t, store, `{"a":1}`)
	}

	deleted, err := store.DeleteUpTo(ctx, 4)
	if err != nil {
		t.Fatalf("DeleteUpTo: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted = %d, want 4", deleted)
	}

	// Second pass over the same watermark removes nothing.
	deleted, err = store.DeleteUpTo(ctx, 4)
	if err != nil {
		t.Fatalf("second DeleteUpTo: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("second delete removed %d rows", deleted)
	}

	maxID, events, err := store.ReadSince(ctx, -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 2 || maxID != 6 {
		t.Fatalf("after delete: %d events, maxID %d", len(events), maxID)
	}
	for _, event := range events {
		if event.ID <= 4 {
			t.Fatalf("row %d survived DeleteUpTo(4)", event.ID)
		}
	}
}

func TestDeleteOne(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := mustAppend(t, store, `{"a":1}`)
	second := mustAppend(t, store, `{"a":2}`)

	if err := store.DeleteOne(ctx, first); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	// Deleting a missing row is a no-op.
	if err := store.DeleteOne(ctx, first); err != nil {
		t.Fatalf("repeat DeleteOne: %v", err)
	}

	_, events, err := store.ReadSince(ctx, -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(events) != 1 || events[0].ID != second {
		t.Fatalf("unexpected surviving rows: %+v", events)
	}
}

func TestEndToEndScenario(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if id := mustAppend(t, store, `{"a":1}`); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	if id := mustAppend(t, store, `{"a":2}`); id != 2 {
		t.Fatalf("second id = %d, want 2", id)
	}

	maxID, events, err := store.ReadSince(ctx, -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if maxID != 2 || len(events) != 2 {
		t.Fatalf("maxID = %d, %d events", maxID, len(events))
	}
	if events[0].Fields["event_id"].(int64) != 1 || events[1].Fields["event_id"].(int64) != 2 {
		t.Fatalf("event_id fields wrong: %+v", events)
	}

	if _, err := store.DeleteUpTo(ctx, 1); err != nil {
		t.Fatalf("DeleteUpTo: %v", err)
	}

	maxID, events, err = store.ReadSince(ctx, -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if maxID != 2 || len(events) != 1 {
		t.Fatalf("after delete: maxID = %d, %d events", maxID, len(events))
	}
	if events[0].Fields["a"].(json.Number).String() != "2" {
		t.Fatalf("surviving event = %+v", events[0].Fields)
	}
}

func TestReadSinceEmptyStore(t *testing.T) {
	store := openTestStore(t)

	maxID, events, err := store.ReadSince(context.Background(), -1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if maxID != NoRows {
		t.Fatalf("maxID = %d, want NoRows", maxID)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events from empty store", len(events))
	}
}
