package server

import "errors"

var (
	// ErrNotStopped is returned by Start when the server is not stopped.
	ErrNotStopped = errors.New("server is not in stopped state")

	// ErrNotRunning is returned by Stop when the server is not running.
	ErrNotRunning = errors.New("server is not running")
)
