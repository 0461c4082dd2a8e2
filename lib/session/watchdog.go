// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
)

// DefaultWatchdogInterval is the longest the watchdog sleeps between
// ticks.
const DefaultWatchdogInterval = 5 * time.Second

// WatchdogConfig configures a Watchdog.
type WatchdogConfig struct {
	// Interval caps the sleep between ticks. Defaults to
	// DefaultWatchdogInterval.
	Interval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watchdog closes split-off sessions and drives time-based splitting.
type Watchdog struct {
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu sync.Mutex
	// closing holds split-off sessions waiting for their open
	// children, each with its forced-close deadline.
	closing []closingEntry
	// splitting holds proxies whose server configuration enables a
	// time-based split.
	splitting []*Proxy

	cancel context.CancelFunc
	done   chan struct{}
}

type closingEntry struct {
	session  *Session
	deadline time.Time
}

// NewWatchdog creates a Watchdog. Call Start to run it.
func NewWatchdog(config WatchdogConfig) *Watchdog {
	if config.Interval <= 0 {
		config.Interval = DefaultWatchdogInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Watchdog{
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
	}
}

// CloseOrEnqueueForClosing ends session now if it has no open children,
// otherwise keeps it until its children close or gracePeriod elapses.
func (w *Watchdog) CloseOrEnqueueForClosing(session *Session, gracePeriod time.Duration) {
	if session.TryEnd() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = append(w.closing, closingEntry{
		session:  session,
		deadline: w.clock.Now().Add(gracePeriod),
	})
}

// PendingClose returns the number of sessions waiting to be closed.
func (w *Watchdog) PendingClose() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.closing)
}

// PendingSplit returns the number of proxies registered for time-based
// splitting.
func (w *Watchdog) PendingSplit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.splitting)
}

func (w *Watchdog) addToSplitByTime(proxy *Proxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.splitting, proxy) {
		w.splitting = append(w.splitting, proxy)
	}
}

func (w *Watchdog) removeFromSplitByTime(proxy *Proxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.splitting = slices.DeleteFunc(w.splitting, func(p *Proxy) bool { return p == proxy })
}

// Start runs the watchdog on its own goroutine until Shutdown or ctx
// cancellation.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
}

// Shutdown stops the watchdog and ends every session still waiting to
// be closed.
func (w *Watchdog) Shutdown() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	w.mu.Lock()
	closing := w.closing
	w.closing = nil
	w.splitting = nil
	w.mu.Unlock()

	for _, entry := range closing {
		entry.session.End(true)
	}
}

func (w *Watchdog) run(ctx context.Context) {
	for {
		sleep := w.Tick()
		timer := w.clock.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Tick processes both lists once and returns how long to sleep before
// the next tick.
func (w *Watchdog) Tick() time.Duration {
	now := w.clock.Now()
	sleep := w.interval

	w.mu.Lock()
	closing := slices.Clone(w.closing)
	splitting := slices.Clone(w.splitting)
	w.mu.Unlock()

	var remainingClose []*Session
	for _, entry := range closing {
		switch {
		case entry.session.TryEnd():
		case !now.Before(entry.deadline):
			w.logger.Debug("force-closing session after grace period", "session", entry.session.String())
			entry.session.End(true)
		default:
			remainingClose = append(remainingClose, entry.session)
			sleep = min(sleep, entry.deadline.Sub(now))
		}
	}

	var expired []*Proxy
	for _, proxy := range splitting {
		next, ok := proxy.SplitSessionByTime()
		if !ok {
			expired = append(expired, proxy)
			continue
		}
		if until := next.Sub(now); until > 0 {
			sleep = min(sleep, until)
		}
	}

	w.mu.Lock()
	w.closing = slices.DeleteFunc(w.closing, func(entry closingEntry) bool {
		return slices.Contains(closing, entry) && !slices.Contains(remainingClose, entry.session)
	})
	w.splitting = slices.DeleteFunc(w.splitting, func(p *Proxy) bool {
		return slices.Contains(expired, p)
	})
	w.mu.Unlock()

	return sleep
}
