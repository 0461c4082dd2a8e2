// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon-collector is a mock monitor endpoint for local development
// and integration tests. Status and new-session requests are answered
// with a JSON configuration built from the flags. Beacon POSTs are
// decompressed, split into records and appended to the capture file
// as a CBOR sequence.
//
// With --dump FILE it decodes a capture file instead, printing one
// line per beacon, or the CBOR diagnostic notation of every item with
// --verbose.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/cli"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/process"
	"github.com/bureau-foundation/beacon/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listen         string
		capturePath    string
		dumpPath       string
		throttle       int64
		retryAfter     int
		multiplicity   int
		maxEvents      int
		sessionTimeout int
		sendInterval   int
		verbose        bool
		showVersion    bool
	)

	flagSet := pflag.NewFlagSet("beacon-collector", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:8080", "address to serve the monitor endpoint on")
	flagSet.StringVar(&capturePath, "capture", "", "append received beacons to this file as a CBOR sequence")
	flagSet.StringVar(&dumpPath, "dump", "", "print the beacons in this capture file and exit")
	flagSet.Int64Var(&throttle, "throttle", 0, "answer the first N requests with 429")
	flagSet.IntVar(&retryAfter, "retry-after", 60, "Retry-After seconds sent with throttled responses")
	flagSet.IntVar(&multiplicity, "multiplicity", 1, "multiplicity served to agents (0 disables capture)")
	flagSet.IntVar(&maxEvents, "max-events", 0, "maximum top-level events per session (0 means unlimited)")
	flagSet.IntVar(&sessionTimeout, "session-timeout", 0, "idle session timeout in seconds (0 means none)")
	flagSet.IntVar(&sendInterval, "send-interval", 0, "send interval in seconds served to agents (0 keeps the agent default)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every request; with --dump print CBOR diagnostic notation; with --version print build details")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		if verbose {
			fmt.Printf("beacon-collector %s\n", version.Full())
		} else {
			fmt.Printf("beacon-collector %s\n", version.Info())
		}
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if dumpPath != "" {
		return dumpCaptureFile(dumpPath, os.Stdout, verbose)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := cli.NewCommandLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var captureFile *os.File
	if capturePath != "" {
		var err error
		captureFile, err = os.OpenFile(capturePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening capture file: %w", err)
		}
		defer captureFile.Close()
	}

	config := collectorConfig{
		Throttle:       throttle,
		RetryAfter:     time.Duration(retryAfter) * time.Second,
		Multiplicity:   multiplicity,
		MaxEvents:      maxEvents,
		SessionTimeout: time.Duration(sessionTimeout) * time.Second,
		SendInterval:   time.Duration(sendInterval) * time.Second,
	}
	var handler *collector
	if captureFile != nil {
		handler = newCollector(config, captureFile, clock.Real(), logger)
	} else {
		handler = newCollector(config, nil, clock.Real(), logger)
	}

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()

	logger.Info("beacon collector running",
		"listen", listener.Addr().String(),
		"capture", capturePath,
		"throttle", throttle,
		"multiplicity", multiplicity,
	)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	logger.Info("collector stopped",
		"statuses", handler.statuses.Load(),
		"new_sessions", handler.newSessions.Load(),
		"beacons", handler.beacons.Load(),
	)
	return nil
}
