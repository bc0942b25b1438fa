package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/types"
)

// loopWatch runs emit on its own goroutine and stops it synchronously.
type loopWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startLoop(ctx context.Context, emit func(ctx context.Context)) *loopWatch {
	ctx, cancel := context.WithCancel(ctx)
	w := &loopWatch{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		emit(ctx)
	}()
	return w
}

func (w *loopWatch) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

// StaticSource reports a fixed position every Interval. Useful for a vendor
// operating from a fixed stall.
type StaticSource struct {
	Latitude  float64
	Longitude float64
	Denied    bool // simulate the user refusing location access
}

func (s *StaticSource) RequestPermission(context.Context) (bool, error) { return !s.Denied, nil }

func (s *StaticSource) Current(ctx context.Context) (types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}
	return types.Sample{Latitude: s.Latitude, Longitude: s.Longitude, CapturedAt: time.Now().UTC()}, nil
}

func (s *StaticSource) Watch(ctx context.Context, th Thresholds, fn func(types.Sample)) (Watch, error) {
	interval := th.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return startLoop(ctx, func(ctx context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				fn(types.Sample{Latitude: s.Latitude, Longitude: s.Longitude, CapturedAt: now.UTC()})
			}
		}
	}), nil
}

// ReplaySource plays back a recorded track: a file of JSON objects, one per
// line, each shaped like {"latitude":..,"longitude":..,"capturedAt":..}.
// Current returns the first sample; Watch emits the rest one per Interval,
// skipping points closer than DistanceMeters to the last one emitted.
type ReplaySource struct {
	samples []types.Sample
}

// NewReplaySource loads the track at path.
func NewReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var out []types.Sample
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var s types.Sample
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, perrors.Validationf("replay file line %d: %v", line, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	if len(out) == 0 {
		return nil, perrors.Validationf("replay file %s has no samples", path)
	}
	return &ReplaySource{samples: out}, nil
}

// NewReplaySourceFromSamples builds a replay track in memory.
func NewReplaySourceFromSamples(samples ...types.Sample) *ReplaySource {
	return &ReplaySource{samples: append([]types.Sample(nil), samples...)}
}

func (r *ReplaySource) RequestPermission(context.Context) (bool, error) { return true, nil }

func (r *ReplaySource) Current(ctx context.Context) (types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}
	return r.samples[0], nil
}

func (r *ReplaySource) Watch(ctx context.Context, th Thresholds, fn func(types.Sample)) (Watch, error) {
	rest := r.samples[1:]
	return startLoop(ctx, func(ctx context.Context) {
		last := r.samples[0]
		for _, s := range rest {
			if th.Interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(th.Interval):
				}
			} else if ctx.Err() != nil {
				return
			}
			if th.DistanceMeters > 0 && DistanceMeters(last, s) < th.DistanceMeters {
				continue
			}
			last = s
			fn(s)
		}
		<-ctx.Done()
	}), nil
}

// FuncSource is driven by the caller: permission and the current sample come
// from functions, and Emit pushes a sample into the active watch.
type FuncSource struct {
	PermissionFunc func(ctx context.Context) (bool, error)
	CurrentFunc    func(ctx context.Context) (types.Sample, error)

	mu      sync.Mutex
	fn      func(types.Sample)
	watches int
}

func (f *FuncSource) RequestPermission(ctx context.Context) (bool, error) {
	if f.PermissionFunc == nil {
		return true, nil
	}
	return f.PermissionFunc(ctx)
}

func (f *FuncSource) Current(ctx context.Context) (types.Sample, error) {
	if f.CurrentFunc == nil {
		return types.Sample{}, fmt.Errorf("no current sample")
	}
	return f.CurrentFunc(ctx)
}

func (f *FuncSource) Watch(_ context.Context, _ Thresholds, fn func(types.Sample)) (Watch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.watches++
	return &funcWatch{src: f}, nil
}

// Emit delivers s to the active watch and reports whether one was active.
func (f *FuncSource) Emit(s types.Sample) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fn == nil {
		return false
	}
	f.fn(s)
	return true
}

// Active reports whether a watch is live.
func (f *FuncSource) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn != nil
}

// Watches counts Watch calls.
func (f *FuncSource) Watches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches
}

type funcWatch struct{ src *FuncSource }

func (w *funcWatch) Stop() {
	w.src.mu.Lock()
	w.src.fn = nil
	w.src.mu.Unlock()
}
