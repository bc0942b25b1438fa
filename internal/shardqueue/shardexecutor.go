// Copyright 2025 The Synapse Authors.
//
// Package shardqueue provides a small sharded work queue that keeps FIFO
// order per key while allowing parallelism across shards.
//
// Callers must not invoke Submit concurrently for the same key; FIFO order
// relies on that external serialisation.
package shardqueue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// ShardExecutor runs Jobs on worker goroutines partitioned by a stable hash
// of the key. Jobs with the same key run one at a time in submission order;
// a failing job is retried in place, so later jobs for that key wait.
type ShardExecutor struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queuedJob

	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	cfg = cfg.withDefaults()
	p := &ShardExecutor{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "shardqueue").Logger(),
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns a *QueueFullError if the shard stayed full for EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
//
// ctx is also handed to every attempt of the job; cancelling it after a
// successful Submit makes the worker skip the remaining attempts.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op on the shard for key and waits until it runs, so
// every job submitted for key before the call has finished (including its
// retries) when Barrier returns nil.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	barrier := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	// The barrier itself must run even if ctx is cancelled while queued,
	// otherwise a later Barrier on the same key could overtake it.
	if err := p.Submit(context.WithoutCancel(ctx), key, barrier); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop makes every worker drain its queue and waits for them to exit. It is
// idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.log.Debug().Int("shards", p.cfg.Shards).Msg("stopping executor")
	close(p.done)
	p.wg.Wait()
	p.log.Debug().Msg("executor stopped")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			if !p.execute(label, qj) {
				return
			}
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))

		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job == nil || qj.ctx.Err() != nil {
						continue
					}
					p.runOnce(label, qj)
					drained++
				default:
					if drained > 0 {
						p.log.Debug().Int("worker", idx).Int("drained", drained).Msg("drained remaining jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// execute runs qj with retries. It returns false when the executor was
// stopped during a backoff wait and the worker should exit.
func (p *ShardExecutor) execute(label string, qj queuedJob) bool {
	if qj.job == nil {
		return true
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		if err := qj.ctx.Err(); err != nil {
			failuresTotal.WithLabelValues(label, "canceled").Inc()
			p.handleError(qj.key, err)
			return true
		}

		err := p.runOnce(label, qj)
		switch {
		case err == nil:
			return true
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			failuresTotal.WithLabelValues(label, "canceled").Inc()
			p.handleError(qj.key, err)
			return true
		case perrors.IsIrrecoverable(err):
			failuresTotal.WithLabelValues(label, "irrecoverable").Inc()
			p.handleError(qj.key, err)
			return true
		case attempt >= p.cfg.MaxAttempts:
			failuresTotal.WithLabelValues(label, "exhausted").Inc()
			p.handleError(qj.key, &RetryExhaustedError{Key: qj.key, Attempts: attempt, Last: err})
			return true
		}

		wait := exp.NextBackOff()
		retriesTotal.WithLabelValues(label).Inc()
		p.log.Debug().Str("key", qj.key).Int("attempt", attempt).Dur("backoff", wait).Err(err).Msg("job failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
			return false
		case <-qj.ctx.Done():
			timer.Stop()
		}
	}
}

// runOnce runs a single attempt, turning a panic into an error so one bad
// job cannot take the shard down.
func (p *ShardExecutor) runOnce(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			p.log.Error().Str("key", qj.key).Interface("panic", r).Msg("job panicked")
			err = perrors.New(perrors.KindProtocol, fmt.Errorf("job panic: %v", r))
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) handleError(key string, err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("error handler panicked")
		}
	}()
	p.cfg.ErrorHandler(key, err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}
