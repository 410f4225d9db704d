package sandbox

import "errors"

var (
	// ErrSandboxUnavailable reports a failed dial to the execution service.
	ErrSandboxUnavailable = errors.New("sandbox service unavailable")

	// ErrNoActiveRun reports keystrokes for a target with nothing running.
	ErrNoActiveRun = errors.New("no active run for target")
)
