// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitError carries a specific process exit code through run().
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the code the process should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// ExitCode returns the exit code for err: the code of the first error in
// its chain implementing ExitCode() int, otherwise 1.
func ExitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Fatal writes "error: err" to stderr and exits with [ExitCode]. Use it
// in main() for errors from run().
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}
