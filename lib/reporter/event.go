// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/meridian-analytics/meridian-go/lib/eventstore"
)

// apiVersion is the upload protocol version reported in the "v" form
// field and mixed into the checksum.
const apiVersion = "2"

// clientName identifies this library in the event envelope.
const clientName = "meridian-go"

// Synthetic event types emitted at session boundaries.
const (
	eventSessionStart = "session_start"
	eventSessionEnd   = "session_end"
)

// buildEnvelope serializes one event into the stored JSON document.
// Timestamps and session IDs travel as decimal strings so they survive
// JSON processors that coerce numbers to float64.
func (c *Client) buildEnvelope(eventType string, custom, api map[string]any, timestamp, sessionID int64) ([]byte, error) {
	if custom == nil {
		custom = map[string]any{}
	}
	if api == nil {
		api = map[string]any{}
	}
	doc := map[string]any{
		"event_type":        eventType,
		"timestamp":         strconv.FormatInt(timestamp, 10),
		"session_id":        strconv.FormatInt(sessionID, 10),
		"device_id":         c.device.DeviceID,
		"version_code":      c.device.AppVersion,
		"version_name":      c.device.AppVersion,
		"platform":          c.device.Platform,
		"language":          c.device.Language,
		"country":           c.device.Country,
		"client":            clientName,
		"api_properties":    api,
		"custom_properties": custom,
		"global_properties": map[string]any{},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("reporter: marshal event %q: %w", eventType, err)
	}
	return body, nil
}

// marshalBatch renders a read batch as the JSON array the collector
// expects. Each element is the stored document with its queue ID
// already injected as event_id.
func marshalBatch(events []eventstore.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	enc := json.NewEncoder(&buf)
	for i, ev := range events {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(ev.Fields); err != nil {
			return nil, fmt.Errorf("reporter: marshal batch event %d: %w", ev.ID, err)
		}
		// Encoder appends a newline after each value.
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// uploadChecksum computes the integrity digest the collector verifies:
// the hex MD5 of version, API key, batch body, and upload timestamp
// concatenated in that order.
func uploadChecksum(apiKey, body, uploadTime string) string {
	h := md5.New()
	h.Write([]byte(apiVersion))
	h.Write([]byte(apiKey))
	h.Write([]byte(body))
	h.Write([]byte(uploadTime))
	return hex.EncodeToString(h.Sum(nil))
}
