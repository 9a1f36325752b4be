package domain

import "errors"

var (
	// ErrDaemonUnavailable means no daemon answered on the IPC socket.
	ErrDaemonUnavailable = errors.New("daemon unavailable")
	ErrDaemonRunning     = errors.New("daemon already running")
	ErrDaemonStartFailed = errors.New("daemon start failed")
)

// ErrRemoteNotConfigured is reported by dispatches when no remote URL is set.
// Buffered data stays pending until one is.
var ErrRemoteNotConfigured = errors.New("remote url not configured")
