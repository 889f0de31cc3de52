// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-analytics/meridian-go/lib/clock"
	"github.com/meridian-analytics/meridian-go/lib/device"
	"github.com/meridian-analytics/meridian-go/lib/eventstore"
	"github.com/meridian-analytics/meridian-go/lib/prefstore"
	"github.com/meridian-analytics/meridian-go/lib/sqlitepool"
	"github.com/meridian-analytics/meridian-go/lib/workqueue"
)

// Tuning defaults. Config fields left zero pick these up.
const (
	DefaultUploadThreshold  = 30
	DefaultUploadMaxBatch   = 100
	DefaultEventMaxCount    = 1000
	DefaultEventRemoveBatch = 20

	DefaultUploadPeriod       = 30 * time.Second
	DefaultSessionMergeWindow = 15 * time.Second
	DefaultSessionTimeout     = 30 * time.Minute

	// endSessionGrace is added to the merge window when arming the
	// deferred end-of-session timer, so a resume racing the timer
	// always lands inside the window.
	endSessionGrace = time.Second
)

// Preference keys for session bookkeeping. They persist across process
// restarts so sessions can be resumed.
const (
	prefLastEventTime      = "last_event_time"
	prefLastEventID        = "last_event_id"
	prefLastSessionTime    = "last_session_time"
	prefLastSessionID      = "last_session_id"
	prefLastEndSessionTime = "last_end_session_time"
	prefLastEndSessionID   = "last_end_session_id"
)

// noSession marks the absence of an open session.
const noSession int64 = -1

// Config configures a Client. APIKey and DatabasePath are required;
// everything else has a usable default.
type Config struct {
	APIKey       string
	DatabasePath string
	// Endpoint is the collector URL. Ignored when Transport is set.
	Endpoint string
	// Transport overrides the HTTP transport, e.g. for tests.
	Transport Transport
	// AppVersion is reported in every event envelope.
	AppVersion string

	Clock  clock.Clock
	Logger *slog.Logger

	UploadThreshold  int
	UploadMaxBatch   int
	EventMaxCount    int
	EventRemoveBatch int
	QueueCapacity    int

	UploadPeriod       time.Duration
	SessionMergeWindow time.Duration
	SessionTimeout     time.Duration
}

func (cfg *Config) withDefaults() Config {
	out := *cfg
	if out.Transport == nil && out.Endpoint != "" {
		out.Transport = NewHTTPTransport(out.Endpoint)
	}
	if out.Clock == nil {
		out.Clock = clock.Real()
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if out.UploadThreshold <= 0 {
		out.UploadThreshold = DefaultUploadThreshold
	}
	if out.UploadMaxBatch <= 0 {
		out.UploadMaxBatch = DefaultUploadMaxBatch
	}
	if out.EventMaxCount <= 0 {
		out.EventMaxCount = DefaultEventMaxCount
	}
	if out.EventRemoveBatch <= 0 {
		out.EventRemoveBatch = DefaultEventRemoveBatch
	}
	if out.QueueCapacity <= 0 {
		out.QueueCapacity = workqueue.DefaultCapacity
	}
	if out.UploadPeriod <= 0 {
		out.UploadPeriod = DefaultUploadPeriod
	}
	if out.SessionMergeWindow <= 0 {
		out.SessionMergeWindow = DefaultSessionMergeWindow
	}
	if out.SessionTimeout <= 0 {
		out.SessionTimeout = DefaultSessionTimeout
	}
	return out
}

// Client buffers events durably and ships them to the collector. All
// methods are safe for concurrent use. Create one with New and release
// it with Close.
type Client struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	pool   *sqlitepool.Pool
	store  *eventstore.Store
	prefs  *prefstore.Store
	device device.Info
	queue  *workqueue.Queue

	// uploading gates the whole read-post-ack cycle: at most one
	// upload is in flight at a time.
	uploading atomic.Bool
	// updateScheduled gates the debounce timer for delayed uploads.
	updateScheduled atomic.Bool

	// Session state. Only units running on the work queue touch it.
	sessionID   int64
	sessionOpen bool

	// timerMu guards the timer handles; the callbacks themselves only
	// re-enter the work queue.
	timerMu         sync.Mutex
	endSessionTimer *clock.Timer
	debounceTimer   *clock.Timer

	closeOnce sync.Once
	closeErr  error
}

// New opens the event database, resolves the device identity, and
// starts the worker. The returned client is ready to log events.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("reporter: API key is required")
	}
	if cfg.DatabasePath == "" {
		return nil, errors.New("reporter: database path is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Transport == nil {
		return nil, errors.New("reporter: endpoint or transport is required")
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.DatabasePath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("reporter: open database: %w", err)
	}
	store, err := eventstore.Open(ctx, pool, cfg.Logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("reporter: open event store: %w", err)
	}
	prefs, err := prefstore.Open(ctx, pool, cfg.Logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("reporter: open preferences: %w", err)
	}
	info, err := device.Resolve(ctx, prefs, cfg.AppVersion, cfg.Logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("reporter: resolve device identity: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		pool:      pool,
		store:     store,
		prefs:     prefs,
		device:    info,
		queue:     workqueue.New(cfg.QueueCapacity, cfg.Logger),
		sessionID: noSession,
	}
	if err := c.recoverPendingEnd(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reporter: recover pending session end: %w", err)
	}
	return c, nil
}

// recoverPendingEnd handles a pending session end left behind by a
// previous process. The deferred timer that would have finalized it
// died with that process, and the upload holdback sits above every
// stored row, so without recovery nothing would ever be uploaded
// again. A record already outside the merge window is final: drop the
// bookkeeping so the marker and everything before it become eligible.
// A record still inside the window keeps its chance at a merge; the
// timer is re-armed for the remainder. Runs before the first unit, so
// no serialization concern.
func (c *Client) recoverPendingEnd(ctx context.Context) error {
	endID, err := c.prefs.GetInt64(ctx, prefLastEndSessionID)
	if err != nil {
		return err
	}
	if endID == prefstore.Missing {
		return nil
	}
	endTime, err := c.prefs.GetInt64(ctx, prefLastEndSessionTime)
	if err != nil {
		return err
	}
	elapsed := time.Duration(c.nowMillis()-endTime) * time.Millisecond
	if elapsed >= c.cfg.SessionMergeWindow {
		return c.prefs.Clear(ctx, prefLastEndSessionID, prefLastEndSessionTime)
	}
	c.armEndSessionTimerAfter(c.cfg.SessionMergeWindow + endSessionGrace - elapsed)
	return nil
}

// nowMillis is the client's clock in Unix milliseconds. Session IDs,
// event timestamps, and upload times all come from here.
func (c *Client) nowMillis() int64 {
	return c.clock.Now().UnixMilli()
}

// workCtx is the context for store operations performed by queued
// units. Units run to completion even while the client shuts down.
func (c *Client) workCtx() context.Context {
	return context.Background()
}

// submit enqueues a unit, logging when the queue refuses it.
func (c *Client) submit(name string, run func() error) {
	if !c.queue.TrySubmit(name, run) {
		c.logger.Warn("reporter: work queue refused unit", "unit", name)
	}
}

// LogEvent records an application event with no custom properties.
func (c *Client) LogEvent(eventType string) error {
	return c.LogEventWithProperties(eventType, nil)
}

// LogEventWithProperties records an application event. The event type
// is validated here; everything else happens asynchronously on the
// worker. Properties must be JSON-marshalable.
func (c *Client) LogEventWithProperties(eventType string, properties map[string]any) error {
	if eventType == "" {
		return errors.New("reporter: event type is required")
	}
	now := c.nowMillis()
	c.submit("log-event", func() error {
		_, err := c.logEventUnit(eventType, properties, nil, now, true)
		return err
	})
	return nil
}

// StartSession opens a session, resuming the previous one when it
// ended within the merge window.
func (c *Client) StartSession() {
	c.cancelEndSessionTimer()
	now := c.nowMillis()
	c.submit("start-session", func() error {
		return c.startSessionUnit(now)
	})
}

// EndSession closes the current session. The session bookkeeping is
// cleared after the merge window elapses with no resume, at which
// point queued events are uploaded.
func (c *Client) EndSession() {
	now := c.nowMillis()
	c.submit("end-session", func() error {
		return c.endSessionUnit(now)
	})
	c.armEndSessionTimer()
}

// UploadEvents triggers an upload of everything currently queued.
func (c *Client) UploadEvents() {
	c.submit("upload-events", func() error {
		return c.updateServer(false)
	})
}

// PendingCount reports how many events are queued for upload. It reads
// the store directly and may be stale relative to in-flight units.
func (c *Client) PendingCount(ctx context.Context) (int64, error) {
	return c.store.CountPending(ctx)
}

// DeviceID returns the stable device identifier events are tagged
// with.
func (c *Client) DeviceID() string {
	return c.device.DeviceID
}

// Close stops the timers, drains the work queue, and closes the
// database. Events already queued are flushed to disk, not uploaded.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancelEndSessionTimer()
		c.timerMu.Lock()
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
			c.debounceTimer = nil
		}
		c.timerMu.Unlock()
		c.queue.Complete()
		c.queue.Wait()
		c.closeErr = c.pool.Close()
	})
	return c.closeErr
}
