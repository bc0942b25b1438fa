// Package chat resolves vendor/customer conversations and keeps one
// ordered message list per open conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mycelian/vendor-presence/internal/api"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/socket"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// ErrClosed is returned after Manager.Close.
var ErrClosed = errors.New("chat manager closed")

// Subscriber is the part of the socket client the manager uses.
type Subscriber interface {
	Subscribe(frameType string, fn socket.Handler) (unsubscribe func())
	OnState(fn func(socket.State, error)) (remove func())
}

const (
	// resolveTimeout bounds a shared conversation lookup, which no single
	// caller's context owns.
	resolveTimeout = 30 * time.Second
	resyncTimeout  = 15 * time.Second
)

// Config wires a Manager. Socket may be nil, in which case channels only
// see history and local sends.
type Config struct {
	Sender transport.Sender
	Socket Subscriber
	Logger zerolog.Logger
}

// Manager owns the open channels of the process.
type Manager struct {
	sender transport.Sender
	socket Subscriber
	log    zerolog.Logger
	group  singleflight.Group

	mu       sync.Mutex
	channels map[string]map[*Channel]struct{}
	closed   bool
}

// NewManager returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Sender == nil {
		return nil, perrors.Validationf("chat: sender is required")
	}
	return &Manager{
		sender:   cfg.Sender,
		socket:   cfg.Socket,
		log:      cfg.Logger.With().Str("component", "chat").Logger(),
		channels: make(map[string]map[*Channel]struct{}),
	}, nil
}

// EnsureConversation returns the vendor's conversation with participantID,
// creating it when none exists. Concurrent calls for the same participant
// share one lookup; a caller that gives up does not fail the others. If the
// backend reports the conversation already exists the existing one is
// adopted.
func (m *Manager) EnsureConversation(ctx context.Context, participantID string) (types.Conversation, error) {
	if err := types.ValidateID("participant id", participantID); err != nil {
		return types.Conversation{}, err
	}
	res := m.group.DoChan(participantID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return m.resolve(rctx, participantID)
	})
	select {
	case <-ctx.Done():
		return types.Conversation{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return types.Conversation{}, r.Err
		}
		conv := r.Val.(types.Conversation)
		m.log.Debug().Str("participant", participantID).Str("conversation", conv.ID).Bool("shared", r.Shared).Msg("conversation resolved")
		return conv, nil
	}
}

func (m *Manager) resolve(ctx context.Context, participantID string) (types.Conversation, error) {
	if conv, ok, err := m.find(ctx, participantID); err != nil || ok {
		return conv, err
	}

	created, err := api.CreateConversation(ctx, m.sender, participantID)
	if err == nil {
		conversationsCreated.Inc()
		m.log.Info().Str("participant", participantID).Str("conversation", created.ID).Msg("conversation created")
		return *created, nil
	}
	if !errors.Is(err, api.ErrConversationExists) {
		return types.Conversation{}, err
	}

	conv, ok, lerr := m.find(ctx, participantID)
	if lerr != nil {
		return types.Conversation{}, lerr
	}
	if !ok {
		return types.Conversation{}, perrors.Protocolf("backend reported a conversation with %s but did not list it", participantID)
	}
	conflictsAdopted.Inc()
	m.log.Info().Str("participant", participantID).Str("conversation", conv.ID).Msg("adopted existing conversation after conflict")
	return conv, nil
}

func (m *Manager) find(ctx context.Context, participantID string) (types.Conversation, bool, error) {
	convs, err := api.ListConversations(ctx, m.sender)
	if err != nil {
		return types.Conversation{}, false, err
	}
	for _, c := range convs {
		if c.ParticipantID == participantID {
			return c, true, nil
		}
	}
	return types.Conversation{}, false, nil
}

// OpenChannel subscribes to pushes for conversationID and seeds the list
// from history. The subscription starts first so nothing pushed while the
// history loads is lost. Each time the socket registers again the history
// is reloaded to pick up messages pushed while it was down.
func (m *Manager) OpenChannel(ctx context.Context, conversationID string) (*Channel, error) {
	if err := types.ValidateID("conversation id", conversationID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ch := newChannel(conversationID)
	if m.socket != nil {
		ch.unsub = m.socket.Subscribe(wire.TypeNewMessage, ch.onFrame)
		ch.unwatch = m.socket.OnState(func(s socket.State, _ error) {
			if s == socket.Registered {
				go m.resync(ch)
			}
		})
	}

	history, err := api.ListMessages(ctx, m.sender, conversationID)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("open channel %s: %w", conversationID, err)
	}
	ch.merge("history", history...)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch.Close()
		return nil, ErrClosed
	}
	set := m.channels[conversationID]
	if set == nil {
		set = make(map[*Channel]struct{})
		m.channels[conversationID] = set
	}
	set[ch] = struct{}{}
	ch.onClose = m.forget
	m.mu.Unlock()

	m.log.Debug().Str("conversation", conversationID).Int("history", len(history)).Msg("channel opened")
	return ch, nil
}

// SendMessage posts body and merges the server's message into every open
// channel of the conversation. It never retries; a failed send is returned
// so the user can decide.
func (m *Manager) SendMessage(ctx context.Context, conversationID, body string) (types.Message, error) {
	if err := types.ValidateMessageBody(body); err != nil {
		return types.Message{}, err
	}
	msg, err := api.CreateMessage(ctx, m.sender, conversationID, body)
	if err != nil {
		m.log.Warn().Err(err).Str("conversation", conversationID).Msg("send failed")
		return types.Message{}, err
	}

	m.mu.Lock()
	targets := make([]*Channel, 0, len(m.channels[conversationID]))
	for ch := range m.channels[conversationID] {
		targets = append(targets, ch)
	}
	m.mu.Unlock()
	for _, ch := range targets {
		ch.merge("send", *msg)
	}
	return *msg, nil
}

// Close closes every open channel. Further OpenChannel calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	var all []*Channel
	for _, set := range m.channels {
		for ch := range set {
			all = append(all, ch)
		}
	}
	m.mu.Unlock()
	for _, ch := range all {
		ch.Close()
	}
	return nil
}

func (m *Manager) resync(ch *Channel) {
	if ch.isClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	msgs, err := api.ListMessages(ctx, m.sender, ch.id)
	if err != nil {
		m.log.Warn().Err(err).Str("conversation", ch.id).Msg("history reload after reconnect failed")
		return
	}
	if n := ch.merge("resync", msgs...); n > 0 {
		m.log.Debug().Str("conversation", ch.id).Int("added", n).Msg("recovered messages after reconnect")
	}
}

func (m *Manager) forget(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.channels[ch.id]; set != nil {
		delete(set, ch)
		if len(set) == 0 {
			delete(m.channels, ch.id)
		}
	}
}
