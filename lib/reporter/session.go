// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"fmt"
	"time"

	"github.com/meridian-analytics/meridian-go/lib/prefstore"
)

// startSessionUnit resumes or opens a session. When the previous
// session ended inside the merge window its session_end marker is
// still queued; deleting it joins the two halves into one session.
func (c *Client) startSessionUnit(now int64) error {
	ctx := c.workCtx()

	lastEndID, err := c.prefs.GetInt64(ctx, prefLastEndSessionID)
	if err != nil {
		return err
	}
	lastEndTime, err := c.prefs.GetInt64(ctx, prefLastEndSessionTime)
	if err != nil {
		return err
	}
	if lastEndID != prefstore.Missing && now-lastEndTime < c.cfg.SessionMergeWindow.Milliseconds() {
		if err := c.store.DeleteOne(ctx, lastEndID); err != nil {
			return fmt.Errorf("reporter: drop pending session end: %w", err)
		}
	}
	return c.startNewSessionIfNeeded(now)
}

// endSessionUnit appends a session_end marker and closes the session.
// The marker's ID and timestamp are remembered so a resume inside the
// merge window can take it back.
func (c *Client) endSessionUnit(now int64) error {
	if c.sessionOpen {
		api := map[string]any{"special": eventSessionEnd}
		id, err := c.logEventUnit(eventSessionEnd, nil, api, now, false)
		if err != nil {
			return err
		}
		ctx := c.workCtx()
		if err := c.prefs.SetInt64(ctx, prefLastEndSessionID, id); err != nil {
			return err
		}
		if err := c.prefs.SetInt64(ctx, prefLastEndSessionTime, now); err != nil {
			return err
		}
	}
	c.sessionOpen = false
	return nil
}

// startNewSessionIfNeeded decides whether the event at timestamp
// belongs to the current session, resumes the previous one, or opens
// a fresh one.
func (c *Client) startNewSessionIfNeeded(timestamp int64) error {
	ctx := c.workCtx()
	if !c.sessionOpen {
		lastEndTime, err := c.prefs.GetInt64(ctx, prefLastEndSessionTime)
		if err != nil {
			return err
		}
		if timestamp-lastEndTime < c.cfg.SessionMergeWindow.Milliseconds() {
			// Close enough to the previous session: keep its ID.
			lastSessionID, err := c.prefs.GetInt64(ctx, prefLastSessionID)
			if err != nil {
				return err
			}
			if lastSessionID == prefstore.Missing {
				return c.startNewSession(timestamp)
			}
			c.openSession()
			c.sessionID = lastSessionID
			return nil
		}
		return c.startNewSession(timestamp)
	}

	lastEventTime, err := c.prefs.GetInt64(ctx, prefLastEventTime)
	if err != nil {
		return err
	}
	if timestamp-lastEventTime > c.cfg.SessionTimeout.Milliseconds() || c.sessionID == noSession {
		return c.startNewSession(timestamp)
	}
	return nil
}

// startNewSession opens a session identified by its start timestamp
// and appends the synthetic session_start event.
func (c *Client) startNewSession(timestamp int64) error {
	c.openSession()
	c.sessionID = timestamp
	ctx := c.workCtx()
	if err := c.prefs.SetInt64(ctx, prefLastSessionID, timestamp); err != nil {
		return err
	}
	if err := c.prefs.SetInt64(ctx, prefLastSessionTime, timestamp); err != nil {
		return err
	}
	api := map[string]any{"special": eventSessionStart}
	_, err := c.logEventUnit(eventSessionStart, nil, api, timestamp, false)
	return err
}

// openSession marks the session open and forgets any pending session
// end, which is now superseded.
func (c *Client) openSession() {
	if err := c.prefs.Clear(c.workCtx(), prefLastEndSessionID, prefLastEndSessionTime); err != nil {
		c.logger.Warn("reporter: clear end-session bookkeeping", "error", err)
	}
	c.sessionOpen = true
}

// armEndSessionTimer schedules the deferred end-of-session work:
// once the merge window (plus grace) passes with no resume, the end
// is final, so the bookkeeping is dropped and queued events uploaded.
func (c *Client) armEndSessionTimer() {
	c.armEndSessionTimerAfter(c.cfg.SessionMergeWindow + endSessionGrace)
}

// armEndSessionTimerAfter arms the deferred end with an explicit
// delay; recovery after a restart uses whatever remains of the
// original window.
func (c *Client) armEndSessionTimerAfter(delay time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.endSessionTimer != nil {
		c.endSessionTimer.Stop()
	}
	// The deferred end supersedes any pending debounce; it uploads on
	// its own when it fires.
	if c.debounceTimer != nil && c.debounceTimer.Stop() {
		c.updateScheduled.Store(false)
		c.debounceTimer = nil
	}
	c.endSessionTimer = c.clock.AfterFunc(delay, func() {
		c.submit("end-session-final", func() error {
			if err := c.prefs.Clear(c.workCtx(), prefLastEndSessionID, prefLastEndSessionTime); err != nil {
				return err
			}
			return c.updateServer(false)
		})
	})
}

func (c *Client) cancelEndSessionTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.endSessionTimer != nil {
		c.endSessionTimer.Stop()
		c.endSessionTimer = nil
	}
}

// logEventUnit writes one event to the queue and runs the retention
// and upload-trigger checks. Runs on the worker only. Returns the
// queue ID of the appended event.
func (c *Client) logEventUnit(eventType string, custom, api map[string]any, timestamp int64, checkSession bool) (int64, error) {
	ctx := c.workCtx()
	if checkSession {
		if err := c.startNewSessionIfNeeded(timestamp); err != nil {
			return 0, err
		}
	}
	if err := c.prefs.SetInt64(ctx, prefLastEventTime, timestamp); err != nil {
		return 0, err
	}

	payload, err := c.buildEnvelope(eventType, custom, api, timestamp, c.sessionID)
	if err != nil {
		return 0, err
	}
	id, err := c.store.Append(ctx, payload)
	if err != nil {
		return 0, err
	}
	if err := c.prefs.SetInt64(ctx, prefLastEventID, id); err != nil {
		return 0, err
	}

	count, err := c.store.CountPending(ctx)
	if err != nil {
		return id, err
	}
	if count > int64(c.cfg.EventMaxCount) {
		nth, err := c.store.NthIDFromOldest(ctx, c.cfg.EventRemoveBatch)
		if err != nil {
			return id, fmt.Errorf("reporter: find retention cutoff: %w", err)
		}
		if _, err := c.store.DeleteUpTo(ctx, nth); err != nil {
			return id, fmt.Errorf("reporter: trim oldest events: %w", err)
		}
		count, err = c.store.CountPending(ctx)
		if err != nil {
			return id, err
		}
	}

	if count > int64(c.cfg.UploadThreshold) {
		if err := c.updateServer(true); err != nil {
			return id, err
		}
	} else {
		c.updateServerLater(c.cfg.UploadPeriod)
	}
	return id, nil
}
