package cli

import (
	"fmt"

	"github.com/686f6c61/linux-port-killer/internal/portmgr"
)

// Process exit codes.
const (
	ExitError                = 1
	ExitNotFound             = 2
	ExitPermissionDenied     = 3
	ExitConfirmationRequired = 4
	ExitStillRunning         = 5
)

// ExitCodeError carries the exit code for a failed command. A nil Err means
// the failure was already reported on stdout.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// exitCode maps a kill result to the process exit code, 0 on success.
func exitCode(r portmgr.KillResult) int {
	if r.Success {
		return 0
	}
	switch r.Reason {
	case portmgr.ReasonNotFound:
		return ExitNotFound
	case portmgr.ReasonPermissionDenied:
		return ExitPermissionDenied
	case portmgr.ReasonConfirmationRequired:
		return ExitConfirmationRequired
	case portmgr.ReasonStillRunning:
		return ExitStillRunning
	default:
		return ExitError
	}
}

// resultsError returns the error for a batch: nil when every result
// succeeded, otherwise the exit code of the first failure.
func resultsError(results []portmgr.KillResult) error {
	for _, r := range results {
		if code := exitCode(r); code != 0 {
			return &ExitCodeError{Code: code}
		}
	}
	return nil
}
