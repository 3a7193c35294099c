package engine

import "errors"

var (
	ErrStopped     = errors.New("execution monitor stopped")
	ErrStopping    = errors.New("execution monitor stopping")
	ErrQueueFull   = errors.New("execution monitor queue full")
	ErrOverlapSkip = errors.New("task already in flight")
	ErrTimeout     = errors.New("hook timed out")
	// ErrReportedFailure is used when a hook returns OK=false without an error.
	ErrReportedFailure = errors.New("hook reported failure")
)
