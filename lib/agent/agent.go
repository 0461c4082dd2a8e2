// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"sync"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/recordcache"
	"github.com/bureau-foundation/beacon/lib/sending"
	"github.com/bureau-foundation/beacon/lib/session"
	"github.com/bureau-foundation/beacon/lib/transport"
	"github.com/bureau-foundation/beacon/lib/version"
)

var (
	_ sending.Transport = (*transport.Client)(nil)
	_ sending.Session   = (*session.Session)(nil)
)

// Options configures an Agent.
type Options struct {
	// Config is the agent configuration. Required; it is validated by
	// New.
	Config *config.Config

	// HTTPClient carries collector requests. Defaults to a client
	// with Config.Sending.RequestTimeout.
	HTTPClient *http.Client

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Agent is a running beacon agent.
type Agent struct {
	config *config.Config
	logger *slog.Logger

	cache    *recordcache.Cache
	evictor  *recordcache.Evictor
	sending  *sending.Context
	sender   *sending.Sender
	watchdog *session.Watchdog
	factory  *session.Factory

	mu       sync.Mutex
	proxies  []*session.Proxy
	shutdown bool
	cancel   context.CancelFunc
	// evictorDone is closed when the evictor goroutine returns. Nil
	// until Start.
	evictorDone chan struct{}
}

// New builds an Agent. Nothing runs until Start.
func New(options Options) (*Agent, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("agent: nil config")
	}
	cfg := options.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: invalid config: %w", err)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Timeout: cfg.Sending.RequestTimeout}
	}
	logger := options.Logger

	client, err := transport.NewClient(transport.Config{
		Endpoint:      cfg.Endpoint,
		ApplicationID: cfg.Application.ID,
		AgentVersion:  version.Agent,
		Technology:    cfg.Application.Technology,
		HTTPClient:    options.HTTPClient,
		Logger:        logger.With("component", "transport"),
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	cache := recordcache.New()
	sendingContext := sending.NewContext(sending.Config{
		Transport: client,
		Clock:     options.Clock,
		Logger:    logger.With("component", "sending"),
	})
	watchdog := session.NewWatchdog(session.WatchdogConfig{
		Clock:  options.Clock,
		Logger: logger.With("component", "watchdog"),
	})

	operatingSystem := cfg.Device.OperatingSystem
	if operatingSystem == "" {
		operatingSystem = runtime.GOOS
	}
	factory := session.NewFactory(session.FactoryConfig{
		Metadata: beacon.Metadata{
			ApplicationID:      cfg.Application.ID,
			ApplicationName:    cfg.Application.Name,
			ApplicationVersion: cfg.Application.Version,
			AgentVersion:       version.Agent,
			Technology:         cfg.Application.Technology,
			OperatingSystem:    operatingSystem,
			Manufacturer:       cfg.Device.Manufacturer,
			Model:              cfg.Device.Model,
			Privacy:            cfg.Privacy.Settings(),
		},
		DeviceID: cfg.Device.ID,
		Cache:    cache,
		Watchdog: watchdog,
		Register: func(s *session.Session) { sendingContext.AddSession(s) },
		Clock:    options.Clock,
		Logger:   logger.With("component", "session"),
	})

	return &Agent{
		config: cfg,
		logger: logger,
		cache:  cache,
		evictor: recordcache.NewEvictor(cache, recordcache.EvictorConfig{
			MaxRecordAge: cfg.Cache.MaxRecordAge,
			UpperBound:   cfg.Cache.UpperBound,
			LowerBound:   cfg.Cache.LowerBound,
			Interval:     cfg.Cache.EvictionInterval,
			Clock:        options.Clock,
			Logger:       logger.With("component", "evictor"),
		}),
		sending:  sendingContext,
		sender:   sending.NewSender(sendingContext),
		watchdog: watchdog,
		factory:  factory,
	}, nil
}

// Start launches the evictor, the sending loop and the watchdog.
func (a *Agent) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.evictorDone = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.evictor.Run(ctx)
	}()
	a.sender.Start(ctx)
	a.watchdog.Start(ctx)
	a.logger.Info("beacon agent started",
		"endpoint", a.config.Endpoint,
		"application_id", a.config.Application.ID,
		"agent_version", version.Agent,
	)
}

// WaitForInit blocks until the first status request was answered and
// reports whether it was. Returns false when ctx is done first or
// initialization was interrupted by shutdown.
func (a *Agent) WaitForInit(ctx context.Context) bool {
	return a.sending.WaitForInit(ctx)
}

// CreateSession opens a logical session for a client. After Shutdown
// it returns a closed proxy that ignores every call.
func (a *Agent) CreateSession(clientIP string) *session.Proxy {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return session.ClosedProxy()
	}
	a.proxies = slices.DeleteFunc(a.proxies, (*session.Proxy).IsFinished)
	proxy := a.factory.NewProxy(clientIP)
	a.proxies = append(a.proxies, proxy)
	return proxy
}

// Cache returns the agent's record cache.
func (a *Agent) Cache() *recordcache.Cache { return a.cache }

// Sending returns the sending loop's state.
func (a *Agent) Sending() *sending.Context { return a.sending }

// Shutdown ends every session, flushes the cache to the collector and
// stops the workers. It waits at most the configured shutdown timeout
// for the flush. Calling Shutdown more than once has no effect.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return
	}
	a.shutdown = true
	proxies := a.proxies
	a.proxies = nil
	cancel := a.cancel
	evictorDone := a.evictorDone
	a.mu.Unlock()

	for _, proxy := range proxies {
		proxy.End()
	}
	a.watchdog.Shutdown()

	timeout := a.config.Sending.ShutdownTimeout
	if !a.sender.Shutdown(timeout) {
		a.logger.Warn("flush did not finish before the shutdown timeout", "timeout", timeout)
	}

	if cancel != nil {
		cancel()
		<-evictorDone
	}
	a.logger.Info("beacon agent stopped", "cached_records", a.cache.Len())
}
