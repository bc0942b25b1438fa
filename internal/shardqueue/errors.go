package shardqueue

import (
	"errors"
	"fmt"
)

// ErrQueueFull reports transient back-pressure: the shard queue stayed full
// for the whole EnqueueTimeout.
var ErrQueueFull = errors.New("shard queue full")

// ErrExecutorClosed reports that the executor was stopped and accepts no
// further work.
var ErrExecutorClosed = errors.New("shard executor closed")

// ErrRetryExhausted is matched by every *RetryExhaustedError.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// QueueFullError carries diagnostics while satisfying errors.Is(_, ErrQueueFull).
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("shard queue %d full (len=%d cap=%d)", e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// RetryExhaustedError is handed to the ErrorHandler when a job kept failing
// with recoverable errors until MaxAttempts was reached. Last is the error
// of the final attempt.
type RetryExhaustedError struct {
	Key      string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("job %q failed after %d attempts: %v", e.Key, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }
