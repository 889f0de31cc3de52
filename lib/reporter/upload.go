// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"net/url"
	"strconv"
	"time"

	"github.com/meridian-analytics/meridian-go/lib/eventstore"
)

// updateServer starts one upload cycle: read a batch, hand it to a
// dispatch goroutine, and return. The uploading flag is taken here and
// released exactly once per cycle, on whichever path ends it. Events
// at or before a pending session_end marker are held back so a merge
// can still retract the marker.
//
// limit bounds the batch to the configured maximum; an unbounded pass
// reads everything eligible. Runs on the worker only.
func (c *Client) updateServer(limit bool) error {
	if c.uploading.Swap(true) {
		// An upload is already in flight; its completion re-checks
		// the queue depth.
		return nil
	}
	ctx := c.workCtx()

	// prefstore.Missing (-1) means no pending end, so read everything.
	holdback, err := c.prefs.GetInt64(ctx, prefLastEndSessionID)
	if err != nil {
		c.uploading.Store(false)
		return err
	}
	batchLimit := 0
	if limit {
		batchLimit = c.cfg.UploadMaxBatch
	}
	maxID, events, err := c.store.ReadSince(ctx, holdback, batchLimit)
	if err != nil {
		c.uploading.Store(false)
		return err
	}
	if maxID == eventstore.NoRows {
		c.uploading.Store(false)
		c.logger.Debug("reporter: nothing to upload")
		return nil
	}

	body, err := marshalBatch(events)
	if err != nil {
		c.uploading.Store(false)
		return err
	}
	uploadTime := strconv.FormatInt(c.nowMillis(), 10)
	form := url.Values{
		"v":           {apiVersion},
		"e":           {string(body)},
		"client":      {c.cfg.APIKey},
		"upload_time": {uploadTime},
		"checksum":    {uploadChecksum(c.cfg.APIKey, string(body), uploadTime)},
	}

	go c.dispatch(form, maxID, len(events))
	return nil
}

// dispatch performs the POST off the worker and routes the outcome.
// A success re-enters the work queue to acknowledge the batch; every
// other outcome releases the uploading flag right here and leaves the
// events queued for a later retry.
func (c *Client) dispatch(form url.Values, maxID int64, count int) {
	start := time.Now()
	response, err := c.cfg.Transport.Post(c.workCtx(), form)
	if err != nil {
		c.logger.Warn("reporter: upload failed", "events", count, "error", err)
		c.uploading.Store(false)
		return
	}

	switch response {
	case responseSuccess:
		c.logger.Debug("reporter: upload accepted",
			"events", count,
			"max_id", maxID,
			"elapsed", time.Since(start))
		if !c.queue.TrySubmit("upload-ack", func() error {
			return c.acknowledgeUpload(maxID)
		}) {
			c.uploading.Store(false)
		}
	case responseInvalidAPIKey:
		c.logger.Error("reporter: collector rejected the API key")
		c.uploading.Store(false)
	case responseBadChecksum:
		c.logger.Warn("reporter: upload mangled in transit, will retry")
		c.uploading.Store(false)
	case responseServerWriteFailed:
		c.logger.Warn("reporter: collector could not persist the batch, will retry")
		c.uploading.Store(false)
	default:
		c.logger.Warn("reporter: upload rejected, will retry", "response", response)
		c.uploading.Store(false)
	}
}

// acknowledgeUpload deletes everything up to the acknowledged
// watermark, releases the uploading flag, and starts another pass if
// the queue is still above the threshold. Runs on the worker only.
func (c *Client) acknowledgeUpload(maxID int64) error {
	ctx := c.workCtx()
	if _, err := c.store.DeleteUpTo(ctx, maxID); err != nil {
		c.uploading.Store(false)
		return err
	}
	count, err := c.store.CountPending(ctx)
	c.uploading.Store(false)
	if err != nil {
		return err
	}
	if count > int64(c.cfg.UploadThreshold) {
		return c.updateServer(false)
	}
	return nil
}

// updateServerLater arms the debounce timer unless one is already
// armed. The timer re-enters the work queue, drops the flag, and runs
// an unbounded upload pass.
func (c *Client) updateServerLater(delay time.Duration) {
	if c.updateScheduled.Swap(true) {
		return
	}
	timer := c.clock.AfterFunc(delay, func() {
		if !c.queue.TrySubmit("deferred-upload", func() error {
			c.updateScheduled.Store(false)
			return c.updateServer(false)
		}) {
			c.updateScheduled.Store(false)
		}
	})
	c.timerMu.Lock()
	c.debounceTimer = timer
	c.timerMu.Unlock()
}
