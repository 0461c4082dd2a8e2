// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bureau-foundation/beacon/lib/codec"
)

// dumpCaptureFile prints one line per beacon in the capture file at
// path. With diagnostic set it prints each item in CBOR diagnostic
// notation instead.
func dumpCaptureFile(path string, w io.Writer, diagnostic bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer file.Close()
	if diagnostic {
		return dumpDiagnostic(file, w)
	}
	return dumpCapture(file, w)
}

func dumpCapture(r io.Reader, w io.Writer) error {
	return codec.DecodeSequence(r, func(index int, beacon capturedBeacon) error {
		_, err := fmt.Fprintf(w, "%d %s app=%s client_ip=%s records=%d et=%s\n",
			index,
			beacon.Received.Format(time.RFC3339),
			beacon.Application,
			beacon.ClientIP,
			len(beacon.Records),
			eventTypes(beacon.Records),
		)
		return err
	})
}

// dumpDiagnostic prints every item of the capture as CBOR diagnostic
// notation, one per line.
func dumpDiagnostic(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading capture: %w", err)
	}
	for index := 0; len(data) > 0; index++ {
		notation, rest, err := codec.Diagnose(data)
		if err != nil {
			return fmt.Errorf("capture item %d: %w", index, err)
		}
		if _, err := fmt.Fprintf(w, "%d %s\n", index, notation); err != nil {
			return err
		}
		data = rest
	}
	return nil
}

// eventTypes returns the comma-separated event types of records.
func eventTypes(records []string) string {
	types := make([]string, 0, len(records))
	for _, record := range records {
		values, err := url.ParseQuery(record)
		if err != nil {
			types = append(types, "?")
			continue
		}
		types = append(types, values.Get("et"))
	}
	return strings.Join(types, ",")
}
