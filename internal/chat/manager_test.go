package chat

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/socket"
	"github.com/mycelian/vendor-presence/internal/testbackend"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// ---------- helpers ----------

// fakeSocket routes frames and state changes driven by the test to
// subscribers.
type fakeSocket struct {
	mu        sync.Mutex
	next      int
	subs      map[int]socket.Handler
	listeners map[int]func(socket.State, error)
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		subs:      make(map[int]socket.Handler),
		listeners: make(map[int]func(socket.State, error)),
	}
}

func (f *fakeSocket) OnState(fn func(socket.State, error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSocket) setState(st socket.State) {
	f.mu.Lock()
	ls := make([]func(socket.State, error), 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(st, nil)
	}
}

func (f *fakeSocket) watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeSocket) Subscribe(frameType string, fn socket.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.subs[id] = func(fr wire.Frame) {
		if frameType == "" || fr.Type == frameType {
			fn(fr)
		}
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeSocket) deliver(fr wire.Frame) {
	f.mu.Lock()
	hs := make([]socket.Handler, 0, len(f.subs))
	for _, h := range f.subs {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(fr)
	}
}

func (f *fakeSocket) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func restSender(srv *testbackend.Server) transport.Sender {
	creds := credential.NewMemoryStore(types.Session{Token: testbackend.DefaultToken, VendorID: testbackend.DefaultVendorID})
	return transport.NewREST(srv.Client(), srv.URL(), creds, zerolog.Nop())
}

func newManager(t *testing.T, sender transport.Sender, sock Subscriber) *Manager {
	t.Helper()
	m, err := NewManager(Config{Sender: sender, Socket: sock, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// hookSender runs before() ahead of the first request with the given
// operation name.
type hookSender struct {
	transport.Sender
	op     string
	once   sync.Once
	before func()
}

func (h *hookSender) Send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if req.Operation == h.op {
		h.once.Do(h.before)
	}
	return h.Sender.Send(ctx, req)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) types.Message {
	return types.Message{ID: id, ConversationID: "c7", SenderType: types.SenderUser, Body: id, CreatedAt: base.Add(offset)}
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// ---------- tests ----------

func TestChat_NewConversationFlow(t *testing.T) {
	srv := testbackend.New(testbackend.WithConversationIDs("c7"), testbackend.WithoutMessageEcho())
	defer srv.Close()
	m := newManager(t, restSender(srv), newFakeSocket())

	conv, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)
	assert.Equal(t, "c7", conv.ID)
	assert.Equal(t, 1, srv.Hits(testbackend.RouteListConversations))
	assert.Equal(t, 1, srv.Hits(testbackend.RouteCreateConversation))

	ch, err := m.OpenChannel(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, ch.Messages())

	sent, err := m.SendMessage(context.Background(), conv.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "c7", sent.ConversationID)
	assert.Equal(t, []string{sent.ID}, ids(ch.Messages()))
}

func TestChat_SequentialEnsureNoDuplicate(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	m := newManager(t, restSender(srv), nil)

	a, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)
	b, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, srv.Hits(testbackend.RouteCreateConversation))
	assert.Len(t, srv.Conversations(testbackend.DefaultVendorID), 1)
}

func TestChat_ConcurrentEnsureSharesOneCreate(t *testing.T) {
	srv := testbackend.New(testbackend.WithCreateConversationDelay(50 * time.Millisecond))
	defer srv.Close()
	m := newManager(t, restSender(srv), nil)

	const n = 5
	got := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.EnsureConversation(context.Background(), "u42")
			assert.NoError(t, err)
			got[i] = c.ID
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
	assert.Equal(t, 1, srv.Hits(testbackend.RouteCreateConversation))
}

func TestChat_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	srv := testbackend.New(testbackend.WithConversationIDs("c7"), testbackend.WithCreateConversationDelay(100*time.Millisecond))
	defer srv.Close()
	m := newManager(t, restSender(srv), nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.EnsureConversation(ctx, "u42")
		first <- err
	}()
	require.Eventually(t, func() bool { return srv.Hits(testbackend.RouteCreateConversation) == 1 }, 2*time.Second, time.Millisecond)

	second := make(chan types.Conversation, 1)
	go func() {
		c, err := m.EnsureConversation(context.Background(), "u42")
		assert.NoError(t, err)
		second <- c
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	select {
	case c := <-second:
		assert.Equal(t, "c7", c.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("shared lookup did not complete")
	}
	assert.Equal(t, 1, srv.Hits(testbackend.RouteCreateConversation))
}

func TestChat_ConflictAdoptsExisting(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	// Another device creates the conversation between our list and create.
	sender := &hookSender{
		Sender: restSender(srv),
		op:     "create conversation",
		before: func() {
			srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c-other", ParticipantID: "u42"})
		},
	}
	m := newManager(t, sender, nil)

	conv, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)
	assert.Equal(t, "c-other", conv.ID)
	assert.Equal(t, 2, srv.Hits(testbackend.RouteListConversations))
	assert.Len(t, srv.Conversations(testbackend.DefaultVendorID), 1)
}

func TestChat_HistoryAndPushDeduplicated(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	srv.SeedMessages("c7", msg("m2", 2*time.Second), msg("m1", time.Second))
	sock := newFakeSocket()
	m := newManager(t, restSender(srv), sock)

	ch, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(ch.Messages()), "history must be ascending")

	m1 := msg("m1", time.Second)
	sock.deliver(wire.NewMessage("c7", m1))
	sock.deliver(wire.NewMessage("c7", m1))
	assert.Equal(t, []string{"m1", "m2"}, ids(ch.Messages()))

	sock.deliver(wire.NewMessage("c7", msg("m0", 0)))
	sock.deliver(wire.NewMessage("c7", msg("m3", 3*time.Second)))
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, ids(ch.Messages()))
}

func TestChat_PushForOtherConversationIgnored(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	sock := newFakeSocket()
	m := newManager(t, restSender(srv), sock)

	ch, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	other := msg("x1", 0)
	other.ConversationID = "c8"
	sock.deliver(wire.NewMessage("c8", other))
	assert.Empty(t, ch.Messages())
}

func TestChat_UpdatesSignalled(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	sock := newFakeSocket()
	m := newManager(t, restSender(srv), sock)

	ch, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	sock.deliver(wire.NewMessage("c7", msg("m1", 0)))
	sock.deliver(wire.NewMessage("c7", msg("m2", time.Second)))

	select {
	case <-ch.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update signalled")
	}
	assert.Len(t, ch.Messages(), 2)
}

func TestChat_CloseUnsubscribesOnly(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	sock := newFakeSocket()
	m := newManager(t, restSender(srv), sock)

	a, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	b, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	require.Equal(t, 2, sock.count())

	a.Close()
	a.Close()
	assert.Equal(t, 1, sock.count())
	assert.Equal(t, 1, sock.watchers())

	sock.deliver(wire.NewMessage("c7", msg("m1", 0)))
	assert.Empty(t, a.Messages())
	assert.Len(t, b.Messages(), 1)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, sock.count())
	assert.Equal(t, 0, sock.watchers())
	_, err = m.OpenChannel(context.Background(), "c7")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChat_EmptyBodyRejectedWithoutNetwork(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	m := newManager(t, restSender(srv), nil)

	for _, body := range []string{"", "   ", "\n\t"} {
		_, err := m.SendMessage(context.Background(), "c7", body)
		assert.ErrorIs(t, err, perrors.ErrValidation)
	}
	assert.Equal(t, 0, srv.Hits(testbackend.RouteCreateMessage))
}

func TestChat_SendFailureNotRetried(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	srv.FailNext(testbackend.RouteCreateMessage, 1, http.StatusServiceUnavailable)
	m := newManager(t, restSender(srv), nil)

	ch, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	_, err = m.SendMessage(context.Background(), "c7", "hello")
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
	assert.Equal(t, 1, srv.Hits(testbackend.RouteCreateMessage))
	assert.Empty(t, ch.Messages())
}

func TestChat_SendAndEchoOverLiveSocket(t *testing.T) {
	srv := testbackend.New(testbackend.WithConversationIDs("c7"))
	defer srv.Close()
	creds := credential.NewMemoryStore(types.Session{Token: testbackend.DefaultToken, VendorID: testbackend.DefaultVendorID})
	sock, err := socket.New(socket.Config{
		URL:    srv.SocketURL(),
		Dialer: transport.NewWebSocketDialer(creds),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer sock.Disconnect()
	require.NoError(t, sock.Connect(context.Background(), testbackend.DefaultVendorID))
	require.Eventually(t, func() bool { return srv.Registered() == 1 }, 2*time.Second, 5*time.Millisecond)

	m := newManager(t, restSender(srv), sock)
	conv, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)
	ch, err := m.OpenChannel(context.Background(), conv.ID)
	require.NoError(t, err)

	sent, err := m.SendMessage(context.Background(), conv.ID, "hi there")
	require.NoError(t, err)

	incoming := types.Message{ID: "u-1", ConversationID: "c7", SenderType: types.SenderUser, Body: "hello!", CreatedAt: time.Now().UTC().Add(time.Second)}
	srv.Push(testbackend.DefaultVendorID, wire.NewMessage("c7", incoming))

	require.Eventually(t, func() bool { return len(ch.Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{sent.ID, "u-1"}, ids(ch.Messages()))
}

func TestChat_ReregisterReloadsHistory(t *testing.T) {
	srv := testbackend.New()
	defer srv.Close()
	srv.SeedConversation(testbackend.DefaultVendorID, types.Conversation{ID: "c7", ParticipantID: "u42"})
	srv.SeedMessages("c7", msg("m1", 0))
	sock := newFakeSocket()
	m := newManager(t, restSender(srv), sock)

	ch, err := m.OpenChannel(context.Background(), "c7")
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids(ch.Messages()))

	sock.setState(socket.Disconnected)
	srv.SeedMessages("c7", msg("m2", time.Second))
	sock.setState(socket.Connecting)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ch.Messages(), 1, "reload only runs once registered")

	sock.setState(socket.Registered)
	require.Eventually(t, func() bool { return len(ch.Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, ids(ch.Messages()))

	ch.Close()
	hits := srv.Hits(testbackend.RouteListMessages)
	sock.setState(socket.Disconnected)
	sock.setState(socket.Registered)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, hits, srv.Hits(testbackend.RouteListMessages))
}

func TestChat_MessageMissedWhileDisconnectedRecovered(t *testing.T) {
	srv := testbackend.New(testbackend.WithConversationIDs("c7"))
	defer srv.Close()
	creds := credential.NewMemoryStore(types.Session{Token: testbackend.DefaultToken, VendorID: testbackend.DefaultVendorID})
	sock, err := socket.New(socket.Config{
		URL:          srv.SocketURL(),
		Dialer:       transport.NewWebSocketDialer(creds),
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	defer sock.Disconnect()
	require.NoError(t, sock.Connect(context.Background(), testbackend.DefaultVendorID))
	require.Eventually(t, func() bool { return srv.Registered() == 1 }, 2*time.Second, 5*time.Millisecond)

	m := newManager(t, restSender(srv), sock)
	conv, err := m.EnsureConversation(context.Background(), "u42")
	require.NoError(t, err)
	ch, err := m.OpenChannel(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Empty(t, ch.Messages())

	// The customer writes while the vendor's socket is down; no push reaches us.
	var once sync.Once
	missed := types.Message{ID: "u-9", SenderType: types.SenderUser, Body: "are you open?", CreatedAt: time.Now().UTC()}
	remove := sock.OnState(func(s socket.State, _ error) {
		if s == socket.Disconnected {
			once.Do(func() { srv.SeedMessages(conv.ID, missed) })
		}
	})
	defer remove()

	srv.DropConnections()
	require.Eventually(t, func() bool { return len(ch.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "u-9", ch.Messages()[0].ID)
	assert.Equal(t, socket.Registered, sock.State())
}
