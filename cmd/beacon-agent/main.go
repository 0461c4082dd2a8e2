// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon-agent drives a beacon agent from a config file: it waits for
// initialization, records a session of synthetic user actions, ends it
// and shuts down, which flushes everything to the collector.
//
// Usage:
//
//	beacon-agent --config agent.yaml [--actions N] [--client-ip IP] [--wait-init DURATION]
//
// Without --config the path is read from BEACON_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/lib/agent"
	"github.com/bureau-foundation/beacon/lib/cli"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/process"
	"github.com/bureau-foundation/beacon/lib/session"
	"github.com/bureau-foundation/beacon/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// exitNotInitialized is the exit code when the collector never answered
// the initial status requests.
const exitNotInitialized = 2

type options struct {
	configPath string
	actions    int
	clientIP   string
	waitInit   time.Duration
}

func run(args []string, stdout io.Writer) error {
	var opts options
	var showVersion bool

	flagSet := pflag.NewFlagSet("beacon-agent", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the agent config file (default: $"+config.EnvironmentVariable+")")
	flagSet.IntVar(&opts.actions, "actions", 3, "number of user actions to record")
	flagSet.StringVar(&opts.clientIP, "client-ip", "", "client IP address forwarded to the collector")
	flagSet.DurationVar(&opts.waitInit, "wait-init", 30*time.Second, "how long to wait for the collector to answer the first status request")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "beacon-agent %s\n", version.Info())
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.actions < 0 {
		return fmt.Errorf("--actions must not be negative, got %d", opts.actions)
	}

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	beaconAgent, err := agent.New(agent.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	beaconAgent.Start(ctx)
	defer beaconAgent.Shutdown()

	initCtx, cancel := context.WithTimeout(ctx, opts.waitInit)
	defer cancel()
	if !beaconAgent.WaitForInit(initCtx) {
		return &process.ExitError{Code: exitNotInitialized, Err: fmt.Errorf("agent did not initialize within %v", opts.waitInit)}
	}

	proxy := beaconAgent.CreateSession(opts.clientIP)
	recordActions(proxy, opts.actions)
	proxy.End()

	fmt.Fprintf(stdout, "recorded %d actions\n", opts.actions)
	return nil
}

// recordActions records count top-level actions, each carrying a value
// and a traced web request.
func recordActions(proxy *session.Proxy, count int) {
	for i := range count {
		action := proxy.EnterAction(fmt.Sprintf("action-%d", i))
		action.ReportIntValue("index", int64(i))
		action.TraceWebRequest(fmt.Sprintf("https://shop.example/api/items/%d", i)).
			Start().
			SetBytesSent(128).
			SetBytesReceived(2048).
			Stop(200)
		action.LeaveAction()
	}
}
