package testbackend

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mycelian/vendor-presence/internal/wire"
)

type peer struct {
	id       string
	ws       *websocket.Conn
	wmu      sync.Mutex
	vendorID string // set by the register frame
}

func (p *peer) write(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

type hub struct {
	s        *Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func newHub(s *Server) *hub {
	return &hub{
		s:        s,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		peers:    make(map[*peer]struct{}),
	}
}

// serve GET /ws
func (h *hub) serve(w http.ResponseWriter, r *http.Request, _ string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("testbackend: upgrade failed")
		return
	}
	p := &peer{id: uuid.NewString(), ws: ws}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		_ = ws.Close()
	}()

	for seq := 0; ; seq++ {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := wire.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("testbackend: dropping malformed frame")
			continue
		}
		if f.Type == wire.TypeRegister {
			h.mu.Lock()
			p.vendorID = f.VendorID
			h.mu.Unlock()
		}
		h.s.record(p.id, seq, f)
	}
}

func (h *hub) push(vendorID string, f wire.Frame) int {
	data, err := json.Marshal(f)
	if err != nil {
		return 0
	}
	h.mu.Lock()
	var targets []*peer
	for p := range h.peers {
		if p.vendorID == vendorID {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	sent := 0
	for _, p := range targets {
		if err := p.write(data); err == nil {
			sent++
		}
	}
	return sent
}

// pushRaw writes data unvalidated to every registered peer of vendorID.
func (h *hub) pushRaw(vendorID string, data []byte) {
	h.mu.Lock()
	var targets []*peer
	for p := range h.peers {
		if p.vendorID == vendorID {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()
	for _, p := range targets {
		_ = p.write(data)
	}
}

func (h *hub) registered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for p := range h.peers {
		if p.vendorID != "" {
			n++
		}
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.ws.Close()
	}
}
