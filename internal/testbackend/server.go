// Package testbackend is an in-memory stand-in for the marketplace backend:
// the REST resources and the realtime socket the presence layer talks to.
// It records every call and frame and can inject failures per route.
package testbackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// Route names accepted by Hits and FailNext.
const (
	RouteListConversations  = "list_conversations"
	RouteCreateConversation = "create_conversation"
	RouteListMessages       = "list_messages"
	RouteCreateMessage      = "create_message"
	RouteUpsertLocation     = "upsert_location"
	RouteListLocations      = "list_locations"
	RouteDeleteLocation     = "delete_location"
	RouteSocket             = "socket"
)

// DefaultToken / DefaultVendorID form the session accepted out of the box.
const (
	DefaultToken    = "test-token"
	DefaultVendorID = "v1"
)

type conversationRow struct {
	vendorID string
	conv     types.Conversation
}

type fault struct {
	remaining int
	status    int
}

// RecordedFrame is one inbound socket frame with the connection it came on.
type RecordedFrame struct {
	ConnID string
	Seq    int // position within that connection, starting at 0
	Frame  wire.Frame
}

// Server is the fake backend. Create with New and release with Close.
type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	tokens        map[string]string // token → vendor id
	conversations []conversationRow
	messages      map[string][]types.Message
	locations     map[string]types.PublishedLocation // vendor id → record
	convIDs       []string
	locIDs        []string
	seq           int
	hits          map[string]int
	faults        map[string]*fault
	frames        []RecordedFrame
	echoMessages  bool
	createDelay   time.Duration

	hub *hub
}

// Option configures a Server.
type Option func(*Server)

// WithConversationIDs makes the next created conversations take these ids
// in order; afterwards ids are random.
func WithConversationIDs(ids ...string) Option {
	return func(s *Server) { s.convIDs = append(s.convIDs, ids...) }
}

// WithLocationIDs does the same for location records.
func WithLocationIDs(ids ...string) Option {
	return func(s *Server) { s.locIDs = append(s.locIDs, ids...) }
}

// WithToken accepts token as a credential for vendorID.
func WithToken(token, vendorID string) Option {
	return func(s *Server) { s.tokens[token] = vendorID }
}

// WithoutMessageEcho stops the server from pushing created messages back
// over the socket.
func WithoutMessageEcho() Option {
	return func(s *Server) { s.echoMessages = false }
}

// WithCreateConversationDelay slows conversation creation, widening the
// check-then-create window.
func WithCreateConversationDelay(d time.Duration) Option {
	return func(s *Server) { s.createDelay = d }
}

// New starts a backend on a loopback port.
func New(opts ...Option) *Server {
	s := &Server{
		tokens:       map[string]string{DefaultToken: DefaultVendorID},
		messages:     make(map[string][]types.Message),
		locations:    make(map[string]types.PublishedLocation),
		hits:         make(map[string]int),
		faults:       make(map[string]*fault),
		echoMessages: true,
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = newHub(s)
	s.srv = httptest.NewServer(s.router())
	return s
}

// URL is the REST base URL.
func (s *Server) URL() string { return s.srv.URL }

// SocketURL is the websocket endpoint.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Client returns an http.Client wired to the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// Close drops all sockets and stops the server.
func (s *Server) Close() {
	s.hub.closeAll()
	s.srv.Close()
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/conversations", s.route(RouteListConversations, s.listConversations)).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.route(RouteCreateConversation, s.createConversation)).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages", s.route(RouteListMessages, s.listMessages)).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.route(RouteCreateMessage, s.createMessage)).Methods(http.MethodPost)
	api.HandleFunc("/vendor-locations", s.route(RouteUpsertLocation, s.upsertLocation)).Methods(http.MethodPost)
	api.HandleFunc("/vendor-locations", s.route(RouteListLocations, s.listLocations)).Methods(http.MethodGet)
	api.HandleFunc("/vendor-locations/{id}", s.route(RouteDeleteLocation, s.deleteLocation)).Methods(http.MethodDelete)
	r.HandleFunc("/ws", s.route(RouteSocket, s.hub.serve))
	return r
}

type vendorHandler func(w http.ResponseWriter, r *http.Request, vendorID string)

// route counts the hit, authenticates, and applies any injected fault.
func (s *Server) route(name string, h vendorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[name]++
		vendorID, ok := s.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		var status int
		if f := s.faults[name]; ok && f != nil && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		s.mu.Unlock()

		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		h(w, r, vendorID)
	}
}

// FailNext makes the next n calls to route fail with status.
func (s *Server) FailNext(route string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = &fault{remaining: n, status: status}
}

// Hits reports how many requests reached route, including failed ones.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Locations returns the stored location records.
func (s *Server) Locations() []types.PublishedLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PublishedLocation, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conversations returns every conversation of vendorID.
func (s *Server) Conversations(vendorID string) []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationsLocked(vendorID)
}

// SeedConversation stores an existing conversation for vendorID.
func (s *Server) SeedConversation(vendorID string, c types.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, conversationRow{vendorID: vendorID, conv: c})
}

// SeedMessages appends history to a conversation without any push.
func (s *Server) SeedMessages(conversationID string, msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		m.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], m)
	}
}

// Push broadcasts f to every registered socket of vendorID.
func (s *Server) Push(vendorID string, f wire.Frame) int {
	return s.hub.push(vendorID, f)
}

// DropConnections closes every socket from the server side.
func (s *Server) DropConnections() { s.hub.closeAll() }

// Frames returns the inbound frames recorded so far.
func (s *Server) Frames() []RecordedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedFrame(nil), s.frames...)
}

// FramesOfType filters Frames by frame type.
func (s *Server) FramesOfType(typ string) []wire.Frame {
	var out []wire.Frame
	for _, rf := range s.Frames() {
		if rf.Frame.Type == typ {
			out = append(out, rf.Frame)
		}
	}
	return out
}

// Registered reports how many live sockets have registered.
func (s *Server) Registered() int { return s.hub.registered() }

func (s *Server) record(connID string, seq int, f wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, RecordedFrame{ConnID: connID, Seq: seq, Frame: f})
}

func (s *Server) nextID(preset *[]string, prefix string) string {
	if len(*preset) > 0 {
		id := (*preset)[0]
		*preset = (*preset)[1:]
		return id
	}
	s.seq++
	return fmt.Sprintf("%s-%d-%s", prefix, s.seq, uuid.NewString()[:8])
}

func (s *Server) conversationsLocked(vendorID string) []types.Conversation {
	out := []types.Conversation{}
	for _, row := range s.conversations {
		if row.vendorID == vendorID {
			out = append(out, row.conv)
		}
	}
	return out
}

// PushRaw writes data as-is to the vendor's sockets, for malformed-frame
// tests.
func (s *Server) PushRaw(vendorID string, data []byte) { s.hub.pushRaw(vendorID, data) }
