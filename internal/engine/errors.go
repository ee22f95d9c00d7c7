package engine

import "errors"

// Standard errors returned by the engine supervisor.
var (
	// ErrNoCommand indicates the configuration named no engine binary.
	ErrNoCommand = errors.New("engine command not configured")

	// ErrNotRunning indicates the engine process has already exited.
	ErrNotRunning = errors.New("engine process not running")
)
