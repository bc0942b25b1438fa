// Package socket keeps one authenticated realtime connection alive and routes
// inbound frames to subscribers by frame type.
//
// A connection is usable only after the register frame has been written on
// it; until then Send refuses and no inbound frame is dispatched.
package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// ErrNotConnected is returned by Send while the client is not registered.
// It is a recoverable transport error.
var ErrNotConnected = perrors.New(perrors.KindTransport, errors.New("socket not connected"))

// Config configures a Client.
type Config struct {
	URL          string
	Dialer       transport.Dialer
	ReconnectMin time.Duration // first reconnect delay, default 500ms
	ReconnectMax time.Duration // cap on reconnect delay, default 30s
	Logger       zerolog.Logger
}

// Handler receives dispatched frames on the client's read goroutine.
type Handler func(wire.Frame)

type subscription struct {
	frameType string
	fn        Handler

	mu     sync.Mutex
	closed bool
}

type stateListener struct {
	fn func(State, error)
}

// Client is a reconnecting socket client shared by every feature of the
// process. The zero value is not usable; construct with New.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	connID   string
	cancel   context.CancelFunc
	loopDone chan struct{}

	subsMu    sync.RWMutex
	subs      map[uint64]*subscription
	listeners map[uint64]*stateListener
	nextSub   uint64
}

// New validates cfg and returns a disconnected client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, perrors.Validationf("socket url is required")
	}
	if cfg.Dialer == nil {
		return nil, perrors.Validationf("socket dialer is required")
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	return &Client{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "socket").Logger(),
		subs:      make(map[uint64]*subscription),
		listeners: make(map[uint64]*stateListener),
	}, nil
}

// Connect starts the connection loop for vendorID and returns immediately.
// The loop dials, registers, dispatches frames and reconnects with
// exponential backoff until Disconnect is called or ctx is cancelled.
// Calling Connect while a loop is running is a no-op.
func (c *Client) Connect(ctx context.Context, vendorID string) error {
	if vendorID == "" {
		return perrors.Validationf("vendor id is required to register")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	go c.run(loopCtx, vendorID, c.loopDone)
	return nil
}

// Disconnect stops the loop, closes the live connection and waits for the
// read goroutine to exit. It is idempotent. It must not be called from a
// frame Handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.loopDone, c.conn
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID identifies the current connection in logs; empty when
// disconnected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Send writes f on the registered connection. While the client is not
// registered it logs and returns ErrNotConnected without blocking.
func (c *Client) Send(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, state, connID := c.conn, c.state, c.connID
	c.mu.Unlock()
	if state != Registered || conn == nil {
		sendsRejected.Inc()
		c.log.Debug().Str("type", f.Type).Str("state", state.String()).Msg("send rejected: not connected")
		return ErrNotConnected
	}
	if err := conn.WriteMessage(data); err != nil {
		c.log.Warn().Err(err).Str("conn", connID).Str("type", f.Type).Msg("send failed")
		return perrors.NewNetworkError("socket send", err)
	}
	framesSent.WithLabelValues(f.Type).Inc()
	return nil
}

// Subscribe registers fn for frames of frameType, or for every frame when
// frameType is empty. After the returned function returns, fn is never
// called again. The returned function must not be called from inside fn.
func (c *Client) Subscribe(frameType string, fn Handler) (unsubscribe func()) {
	sub := &subscription{frameType: frameType, fn: fn}
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = sub
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			// Waits for an in-flight callback to finish.
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()
		})
	}
}

// OnState registers a listener for state transitions. err is the cause of
// a transition to Disconnected, nil otherwise.
func (c *Client) OnState(fn func(State, error)) (remove func()) {
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = &stateListener{fn: fn}
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.listeners, id)
		c.subsMu.Unlock()
	}
}

// ------------------------- internals -------------------------

func (c *Client) run(ctx context.Context, vendorID string, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectMin
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if ctx.Err() != nil {
			c.setState(Disconnected, nil)
			return
		}
		c.setState(Connecting, nil)

		err := c.session(ctx, vendorID, b)
		if ctx.Err() != nil {
			c.setState(Disconnected, nil)
			return
		}
		c.setState(Disconnected, err)
		if errors.Is(err, perrors.ErrUnauthenticated) {
			c.log.Error().Err(err).Msg("socket credential rejected; not reconnecting")
			c.mu.Lock()
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
			c.mu.Unlock()
			return
		}

		wait := b.NextBackOff()
		reconnectsTotal.Inc()
		c.log.Info().Err(err).Dur("backoff", wait).Msg("socket lost, reconnecting")
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.setState(Disconnected, nil)
			return
		}
	}
}

// session runs one dial → register → read cycle and returns why it ended.
func (c *Client) session(ctx context.Context, vendorID string, b backoff.BackOff) error {
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
	if err != nil {
		return err
	}
	connID := uuid.NewString()

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	c.conn, c.connID = conn, connID
	c.mu.Unlock()
	defer c.dropConn(conn)

	data, err := wire.Encode(wire.Register(vendorID))
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		return perrors.NewNetworkError("socket register", err)
	}
	framesSent.WithLabelValues(wire.TypeRegister).Inc()
	b.Reset()
	c.setState(Registered, nil)
	c.log.Info().Str("conn", connID).Str("vendor", vendorID).Msg("socket registered")

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return perrors.NewNetworkError("socket read", err)
		}
		f, err := wire.Decode(raw)
		if err != nil {
			framesDropped.WithLabelValues("malformed").Inc()
			c.log.Warn().Err(err).Str("conn", connID).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dropConn(conn transport.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn, c.connID = nil, ""
	}
	c.mu.Unlock()
}

func (c *Client) dispatch(f wire.Frame) {
	c.subsMu.RLock()
	targets := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		if s.frameType == "" || s.frameType == f.Type {
			targets = append(targets, s)
		}
	}
	c.subsMu.RUnlock()

	if len(targets) == 0 {
		framesDropped.WithLabelValues("unrouted").Inc()
		return
	}
	framesReceived.WithLabelValues(f.Type).Inc()
	for _, s := range targets {
		c.deliver(s, f)
	}
}

func (c *Client) deliver(s *subscription, f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("type", f.Type).Msg("frame handler panicked")
		}
	}()
	s.fn(f)
}

func (c *Client) setState(s State, cause error) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	connectionState.Set(float64(s))

	c.subsMu.RLock()
	ls := make([]*stateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.subsMu.RUnlock()
	for _, l := range ls {
		l.fn(s, cause)
	}
}
