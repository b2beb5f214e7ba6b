package app

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidEvent = errors.New("invalid event")
	ErrQueueFull    = errors.New("update queue full")
	ErrInvalidLimit = errors.New("limit must be positive")
	ErrNotStarted   = errors.New("engine not started")
	ErrUnknownID    = errors.New("unknown identifier")
)
