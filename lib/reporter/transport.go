// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Collector response bodies. Anything else is treated as an unknown
// rejection: the batch stays queued and is retried later.
const (
	responseSuccess           = "success"
	responseInvalidAPIKey     = "invalid_api_key"
	responseBadChecksum       = "bad_checksum"
	responseServerWriteFailed = "request_db_write_failed"
)

// Transport delivers one upload request and returns the collector's
// response body as a bare string. Implementations must honor ctx
// cancellation.
type Transport interface {
	Post(ctx context.Context, form url.Values) (string, error)
}

// HTTPTransport posts form-encoded uploads to a collector endpoint
// over HTTP.
type HTTPTransport struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPTransport returns a transport for the given collector URL
// with a bounded request timeout.
func NewHTTPTransport(endpoint string) *HTTPTransport {
	return &HTTPTransport{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Post(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("reporter: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reporter: post upload: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reporter: read upload response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
