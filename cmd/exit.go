package cmd

import (
	"context"
	"errors"
	"fmt"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitItemFailure = 2
	ExitInterrupted = 130
)

// ExitError carries the process exit code chosen for a failed run
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	return ExitFatal
}
