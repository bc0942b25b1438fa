// Package location publishes the vendor's position while they are available
// and removes it when they stop.
//
// Samples flow through a per-vendor FIFO pipeline: order check, range
// validation, upsert over REST with bounded retry, then an advisory socket
// broadcast. Exhausting the retries stops tracking.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/vendor-presence/internal/api"
	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/shardqueue"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// Broadcaster sends advisory frames; the socket client satisfies it.
type Broadcaster interface {
	Send(f wire.Frame) error
}

// Config wires a Publisher.
type Config struct {
	Source      Source
	Sender      transport.Sender
	Credentials credential.Store
	Broadcaster Broadcaster // optional
	Queue       shardqueue.Config
	Thresholds  Thresholds
	Address     AddressFunc
	// StopTimeout bounds the flush and delete run by every stop.
	StopTimeout time.Duration
	Logger      zerolog.Logger
}

// Stats is a snapshot of publisher counters since construction.
type Stats struct {
	Published           int
	Rejected            int // failed validation
	Stale               int // older than the last sample seen
	Dropped             int // could not be queued
	Failures            int // failed upsert attempts
	ConsecutiveFailures int
	AutoStops           int
	Deletes             int
	CleanupFailures     int
}

// Publisher owns the tracking lifecycle of one vendor at a time.
type Publisher struct {
	cfg  Config
	log  zerolog.Logger
	exec *shardqueue.ShardExecutor

	// stopMu serialises Start and Stop.
	stopMu sync.Mutex
	// submitMu serialises Submit for the vendor key.
	submitMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	live      bool
	vendorID  string
	trackCtx  context.Context
	cancel    context.CancelFunc
	watch     Watch
	lastAt    time.Time
	recordID  string
	lastErr   error
	stats     Stats
	listeners []func(bool)
}

// attemptError tags a failed attempt with the tracking generation it
// belonged to.
type attemptError struct {
	gen uint64
	err error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// New validates cfg and starts the publish executor.
func New(cfg Config) (*Publisher, error) {
	if cfg.Source == nil {
		return nil, perrors.Validationf("location source is required")
	}
	if cfg.Sender == nil || cfg.Credentials == nil {
		return nil, perrors.Validationf("sender and credential store are required")
	}
	if cfg.Address == nil {
		cfg.Address = CoordinateAddress
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	p := &Publisher{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "location").Logger(),
	}
	q := cfg.Queue
	q.Logger = cfg.Logger
	q.ErrorHandler = p.onJobError
	p.exec = shardqueue.NewShardExecutor(q)
	return p, nil
}

// OnTrackingChange registers fn to be told when tracking turns on or off,
// including the automatic stop after failed publishes.
func (p *Publisher) OnTrackingChange(fn func(tracking bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// IsTracking reports whether a live sample subscription exists.
func (p *Publisher) IsTracking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watch != nil
}

// RecordID returns the cached server record id, if any.
func (p *Publisher) RecordID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recordID
}

// Stats returns a snapshot of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Start begins tracking vendorID. It publishes one immediate sample and
// waits for it before subscribing to further samples. It returns false with
// ErrPermissionDenied when the user refuses location access, and false with
// the publish error when the first sample cannot be published. Starting an
// already tracking publisher returns true.
func (p *Publisher) Start(ctx context.Context, vendorID string) (bool, error) {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	if p.IsTracking() {
		return true, nil
	}
	if err := types.ValidateID("vendor id", vendorID); err != nil {
		return false, err
	}
	if _, err := p.cfg.Credentials.Load(ctx); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return false, perrors.New(perrors.KindUnauthenticated, fmt.Errorf("start tracking: %w", err))
		}
		return false, err
	}

	granted, err := p.cfg.Source.RequestPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("request location permission: %w", err)
	}
	if !granted {
		p.log.Warn().Str("vendor", vendorID).Msg("location permission denied")
		return false, perrors.New(perrors.KindPermissionDenied, errors.New("user refused location access"))
	}

	trackCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.live = true
	p.vendorID = vendorID
	p.trackCtx, p.cancel = trackCtx, cancel
	p.lastAt = time.Time{}
	p.lastErr = nil
	p.mu.Unlock()

	abort := func(err error) (bool, error) {
		cancel()
		p.mu.Lock()
		if p.gen == gen {
			p.live = false
			p.gen++
		}
		published := p.recordID != ""
		p.mu.Unlock()
		if published {
			// The first sample made it out; remove it again.
			p.stopLocked(context.WithoutCancel(ctx), 0)
		}
		return false, err
	}

	first, err := p.cfg.Source.Current(ctx)
	if err != nil {
		return abort(fmt.Errorf("read current location: %w", err))
	}
	if err := p.publish(gen, first); err != nil {
		return abort(err)
	}
	if err := p.exec.Barrier(ctx, vendorID); err != nil {
		return abort(err)
	}

	p.mu.Lock()
	published, lastErr := p.recordID != "" && p.lastErr == nil, p.lastErr
	p.mu.Unlock()
	if !published {
		if lastErr == nil {
			lastErr = perrors.New(perrors.KindTransport, errors.New("first location was not published"))
		}
		return abort(lastErr)
	}

	w, err := p.cfg.Source.Watch(trackCtx, p.cfg.Thresholds, func(s types.Sample) {
		if err := p.publish(gen, s); err != nil {
			p.log.Debug().Err(err).Msg("sample not published")
		}
	})
	if err != nil {
		return abort(fmt.Errorf("watch location: %w", err))
	}

	p.mu.Lock()
	p.watch = w
	p.mu.Unlock()
	p.log.Info().Str("vendor", vendorID).Str("record", p.RecordID()).Msg("tracking started")
	p.notify(true)
	return true, nil
}

// Stop ends tracking and removes the published record. It is idempotent and
// safe to call from error paths. Cleanup failures are logged and counted in
// Stats; local state always ends up not tracking with no cached record id.
func (p *Publisher) Stop(ctx context.Context) {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	p.stopLocked(ctx, 0)
}

// Close stops tracking and shuts down the publish executor.
func (p *Publisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()
	p.Stop(ctx)
	p.exec.Stop()
	return nil
}

// ------------------------- internals -------------------------

// stopLocked runs the stop sequence. A non-zero onlyGen restricts it to that
// tracking generation. Callers hold stopMu.
func (p *Publisher) stopLocked(ctx context.Context, onlyGen uint64) {
	p.mu.Lock()
	if onlyGen != 0 && onlyGen != p.gen {
		p.mu.Unlock()
		return
	}
	watch, cancel, live, vendorID, cached := p.watch, p.cancel, p.live, p.vendorID, p.recordID
	if !live && watch == nil && cached == "" {
		p.mu.Unlock()
		return
	}
	p.watch = nil
	p.live = false
	p.gen++
	p.cancel = nil
	p.mu.Unlock()

	if watch != nil {
		watch.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if watch != nil {
		p.notify(false)
	}

	// Cleanup outlives a cancelled caller; StopTimeout bounds it.
	ctx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StopTimeout)
	defer cancelCleanup()
	if vendorID != "" {
		if err := p.exec.Barrier(ctx, vendorID); err != nil {
			p.log.Warn().Err(err).Msg("flush before stop failed")
		}
	}

	deleted := p.deleteRecords(ctx, vendorID)
	if deleted > 0 && p.cfg.Broadcaster != nil {
		if err := p.cfg.Broadcaster.Send(wire.LocationRemoved(vendorID, time.Now())); err != nil {
			p.log.Debug().Err(err).Msg("location_removed broadcast skipped")
		}
	}

	p.mu.Lock()
	p.recordID = ""
	p.lastAt = time.Time{}
	p.stats.ConsecutiveFailures = 0
	p.mu.Unlock()
	trackingGauge.Set(0)
	p.log.Info().Str("vendor", vendorID).Int("deleted", deleted).Msg("tracking stopped")
}

// deleteRecords looks the vendor's records up fresh and deletes them. A
// failed lookup deletes nothing; the cached id is never trusted.
func (p *Publisher) deleteRecords(ctx context.Context, vendorID string) int {
	locs, err := api.ListLocations(ctx, p.cfg.Sender)
	if err != nil {
		p.mu.Lock()
		p.stats.CleanupFailures++
		p.mu.Unlock()
		cleanupFailures.Inc()
		p.log.Warn().Err(err).Msg("location lookup failed during stop; record left to expire server-side")
		return 0
	}
	deleted := 0
	for _, loc := range locs {
		if loc.VendorID != "" && vendorID != "" && loc.VendorID != vendorID {
			continue
		}
		if err := api.DeleteLocation(ctx, p.cfg.Sender, loc.ID); err != nil {
			p.mu.Lock()
			p.stats.CleanupFailures++
			p.mu.Unlock()
			cleanupFailures.Inc()
			p.log.Warn().Err(err).Str("record", loc.ID).Msg("location delete failed during stop")
			continue
		}
		deleted++
		p.mu.Lock()
		p.stats.Deletes++
		p.mu.Unlock()
	}
	return deleted
}

// publish runs the local steps of the pipeline and queues the upsert.
func (p *Publisher) publish(gen uint64, s types.Sample) error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	p.mu.Lock()
	if gen != p.gen || !p.live {
		p.mu.Unlock()
		return nil
	}
	if !p.lastAt.IsZero() && s.CapturedAt.Before(p.lastAt) {
		p.stats.Stale++
		p.mu.Unlock()
		samplesDropped.WithLabelValues("stale").Inc()
		return nil
	}
	if err := types.ValidateSample(s); err != nil {
		p.stats.Rejected++
		p.mu.Unlock()
		samplesDropped.WithLabelValues("invalid").Inc()
		p.log.Warn().Err(err).Msg("rejecting location sample")
		return err
	}
	p.lastAt = s.CapturedAt
	ctx, vendorID := p.trackCtx, p.vendorID
	p.mu.Unlock()

	job := shardqueue.JobFunc(func(ctx context.Context) error {
		return p.upsert(ctx, gen, vendorID, s)
	})
	if err := p.exec.Submit(ctx, vendorID, job); err != nil {
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
		samplesDropped.WithLabelValues("queue").Inc()
		p.log.Warn().Err(err).Msg("location sample not queued")
		return err
	}
	return nil
}

// upsert is one attempt of the network step. Attempts for a retired
// generation are dropped without touching the network.
func (p *Publisher) upsert(ctx context.Context, gen uint64, vendorID string, s types.Sample) error {
	p.mu.Lock()
	retired := gen != p.gen || !p.live
	p.mu.Unlock()
	if retired || ctx.Err() != nil {
		return nil
	}
	loc, err := api.UpsertLocation(ctx, p.cfg.Sender, types.UpsertLocationRequest{
		Address:   p.cfg.Address(s),
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
	})
	if err != nil {
		p.mu.Lock()
		p.stats.Failures++
		p.stats.ConsecutiveFailures++
		if gen == p.gen {
			p.lastErr = err
		}
		p.mu.Unlock()
		publishesTotal.WithLabelValues("failure").Inc()
		p.log.Debug().Err(err).Msg("location upsert failed")
		return &attemptError{gen: gen, err: err}
	}

	p.mu.Lock()
	if gen != p.gen || !p.live {
		p.mu.Unlock()
		return nil
	}
	p.recordID = loc.ID
	p.lastErr = nil
	p.stats.Published++
	p.stats.ConsecutiveFailures = 0
	p.mu.Unlock()
	publishesTotal.WithLabelValues("success").Inc()
	trackingGauge.Set(1)

	if p.cfg.Broadcaster != nil {
		if err := p.cfg.Broadcaster.Send(wire.LocationUpdate(vendorID, s.Latitude, s.Longitude, s.CapturedAt)); err != nil {
			p.log.Debug().Err(err).Msg("location_update broadcast skipped")
		}
	}
	return nil
}

// onJobError runs on the executor worker once a publish job has failed for
// good. Retry exhaustion and irrecoverable failures stop tracking. The
// generation is retired here, before the worker dequeues its next job, so
// samples already queued behind the failed one are skipped.
func (p *Publisher) onJobError(_ string, err error) {
	var ae *attemptError
	if !errors.As(err, &ae) {
		return
	}
	if !errors.Is(err, shardqueue.ErrRetryExhausted) && !perrors.IsIrrecoverable(err) {
		return
	}
	p.mu.Lock()
	current := ae.gen == p.gen && p.live && p.watch != nil
	if current {
		p.live = false
		if p.cancel != nil {
			p.cancel()
		}
		p.stats.AutoStops++
	}
	p.mu.Unlock()
	if !current {
		return
	}
	autoStops.Inc()
	p.log.Error().Err(err).Msg("location publishing failed; stopping tracking")
	// Stop flushes this shard, so it must not run on the worker.
	go p.escalate(ae.gen)
}

// escalate finishes an automatic stop: it tears down the watch and removes
// the published record unless a Stop or Start got there first.
func (p *Publisher) escalate(gen uint64) {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()
	p.stopLocked(ctx, gen)
}

func (p *Publisher) notify(tracking bool) {
	p.mu.Lock()
	ls := append([]func(bool){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range ls {
		fn(tracking)
	}
}
