// Package presence is the realtime presence and messaging layer of the
// vendor app: it keeps the vendor's availability (published location) in
// sync with the backend and exposes the vendor/customer chat.
//
// One Client owns one socket connection, one location publisher and one
// chat manager; they share the stored session and the REST transport.
package presence

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mycelian/vendor-presence/internal/api"
	"github.com/mycelian/vendor-presence/internal/chat"
	"github.com/mycelian/vendor-presence/internal/config"
	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/localstate"
	"github.com/mycelian/vendor-presence/internal/location"
	"github.com/mycelian/vendor-presence/internal/shardqueue"
	"github.com/mycelian/vendor-presence/internal/socket"
	"github.com/mycelian/vendor-presence/internal/transport"
)

// Config is the environment driven configuration, see LoadConfig.
type Config = config.Config

// LoadConfig reads VENDOR_PRESENCE_* environment variables.
func LoadConfig() (*Config, error) { return config.Load() }

// Client is the entry point of the presence layer.
type Client struct {
	cfg Config
	log zerolog.Logger

	http       *http.Client
	creds      credential.Store
	ownedCreds io.Closer
	source     location.Source
	dialer     transport.Dialer
	queue      shardqueue.Config

	rest      *transport.REST
	sock      *socket.Client
	publisher *location.Publisher
	chat      *chat.Manager

	mu        sync.Mutex
	listeners []func(bool)

	closedOnce uint32
}

// New wires a Client from cfg. Unless WithCredentialStore is given the
// session is kept in a SQLite database under the local state directory.
// Without WithLocationSource the vendor cannot go available: GoAvailable
// reports ErrPermissionDenied.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, perrors.New(perrors.KindValidation, err)
	}

	queue, err := shardqueue.LoadConfig()
	if err != nil {
		return nil, perrors.New(perrors.KindValidation, err)
	}
	queue.MaxAttempts = cfg.PublishMaxAttempts
	queue.BaseBackoff = cfg.PublishBaseBackoff

	c := &Client{
		cfg:   cfg,
		log:   log.Logger,
		http:  &http.Client{Timeout: cfg.HTTPTimeout},
		queue: queue,
	}

	if cfg.Debug || debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.creds == nil {
		path, err := localstate.DBPath()
		if err != nil {
			return nil, err
		}
		store, err := credential.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		c.creds, c.ownedCreds = store, store
	}
	if c.source == nil {
		c.source = &location.StaticSource{Denied: true}
	}
	if c.dialer == nil {
		c.dialer = transport.NewWebSocketDialer(c.creds)
	}

	if err := c.wire(); err != nil {
		c.closeCreds()
		return nil, err
	}
	return c, nil
}

func (c *Client) wire() error {
	c.rest = transport.NewREST(c.http, c.cfg.APIURL, c.creds, c.log)

	sock, err := socket.New(socket.Config{
		URL:          c.cfg.SocketURL,
		Dialer:       c.dialer,
		ReconnectMin: c.cfg.ReconnectMin,
		ReconnectMax: c.cfg.ReconnectMax,
		Logger:       c.log,
	})
	if err != nil {
		return err
	}
	c.sock = sock

	pub, err := location.New(location.Config{
		Source:      c.source,
		Sender:      c.rest,
		Credentials: c.creds,
		Broadcaster: sock,
		Queue:       c.queue,
		Thresholds: location.Thresholds{
			Interval:       c.cfg.PublishInterval,
			DistanceMeters: c.cfg.PublishDistanceMeters,
		},
		Logger: c.log,
	})
	if err != nil {
		return err
	}
	pub.OnTrackingChange(c.trackingChanged)
	c.publisher = pub

	mgr, err := chat.NewManager(chat.Config{Sender: c.rest, Socket: sock, Logger: c.log})
	if err != nil {
		pub.Close()
		return err
	}
	c.chat = mgr
	return nil
}

// --------------------------------------------------------------------
// Session
// --------------------------------------------------------------------

// Login stores the session used by every later call.
func (c *Client) Login(ctx context.Context, s Session) error {
	if !s.Valid() {
		return perrors.Validationf("token and vendor id are required")
	}
	if err := c.creds.Save(ctx, s); err != nil {
		return err
	}
	sessionEvents.WithLabelValues("login").Inc()
	c.log.Info().Str("vendor", s.VendorID).Msg("session stored")
	return nil
}

// Logout takes the vendor offline, drops the socket and forgets the
// session. The offline cleanup runs before the credential is cleared.
func (c *Client) Logout(ctx context.Context) error {
	c.GoUnavailable(ctx)
	c.sock.Disconnect()
	if err := c.creds.Clear(ctx); err != nil {
		return err
	}
	sessionEvents.WithLabelValues("logout").Inc()
	c.log.Info().Msg("session cleared")
	return nil
}

// Session returns the stored session or an ErrUnauthenticated error.
func (c *Client) Session(ctx context.Context) (Session, error) {
	s, err := c.creds.Load(ctx)
	if errors.Is(err, credential.ErrNotFound) {
		return Session{}, perrors.New(perrors.KindUnauthenticated, err)
	}
	return s, err
}

// --------------------------------------------------------------------
// Socket
// --------------------------------------------------------------------

// Connect starts the shared socket connection for the stored vendor. It
// returns once the connection loop is running; use Socket().OnState to
// follow registration. The loop outlives ctx and ends on Logout or Close.
func (c *Client) Connect(ctx context.Context) error {
	s, err := c.Session(ctx)
	if err != nil {
		return err
	}
	return c.sock.Connect(context.WithoutCancel(ctx), s.VendorID)
}

// Socket exposes the shared socket client.
func (c *Client) Socket() *SocketClient { return c.sock }

// --------------------------------------------------------------------
// Availability
// --------------------------------------------------------------------

// GoAvailable starts publishing the vendor's location. It returns true once
// the first sample is stored on the backend, and false with
// ErrPermissionDenied when location access is refused.
func (c *Client) GoAvailable(ctx context.Context) (bool, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return false, err
	}
	return c.publisher.Start(ctx, s.VendorID)
}

// GoUnavailable stops publishing and removes the vendor's location record.
// Calling it while unavailable does nothing.
func (c *Client) GoUnavailable(ctx context.Context) {
	c.publisher.Stop(ctx)
}

// IsAvailable reports whether the location is being published.
func (c *Client) IsAvailable() bool { return c.publisher.IsTracking() }

// OnAvailabilityChange registers fn for availability transitions, including
// the automatic stop after repeated publish failures.
func (c *Client) OnAvailabilityChange(fn func(available bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// LocationStats returns the publisher counters.
func (c *Client) LocationStats() LocationStats { return c.publisher.Stats() }

// Locations returns the vendor's location records as stored on the backend.
func (c *Client) Locations(ctx context.Context) ([]PublishedLocation, error) {
	return api.ListLocations(ctx, c.rest)
}

func (c *Client) trackingChanged(tracking bool) {
	state := "unavailable"
	if tracking {
		state = "available"
	}
	availabilityChanges.WithLabelValues(state).Inc()

	c.mu.Lock()
	ls := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range ls {
		fn(tracking)
	}
}

// --------------------------------------------------------------------
// Chat
// --------------------------------------------------------------------

// Chat exposes the conversation manager.
func (c *Client) Chat() *ChatManager { return c.chat }

// Conversations lists the vendor's conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	return api.ListConversations(ctx, c.rest)
}

// --------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------

// Close takes the vendor offline, closes open channels, drops the socket and
// stops the publish queue. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	err := c.publisher.Close()
	if cerr := c.chat.Close(); err == nil {
		err = cerr
	}
	c.sock.Disconnect()
	if cerr := c.closeCreds(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) closeCreds() error {
	if c.ownedCreds == nil {
		return nil
	}
	return c.ownedCreds.Close()
}
