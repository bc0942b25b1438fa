package shardqueue

import "context"

// Job is one unit of ordered work. Run may be invoked more than once when
// it returns a recoverable error.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function to Job.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }
