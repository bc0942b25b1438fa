package chat

import (
	"sort"
	"sync"

	"github.com/mycelian/vendor-presence/internal/types"
	"github.com/mycelian/vendor-presence/internal/wire"
)

// Channel is the ordered, duplicate-free message list of one open
// conversation. Messages arrive from history, socket pushes and our own
// sends; each id is kept once.
type Channel struct {
	id string

	mu      sync.Mutex
	msgs    []types.Message
	ids     map[string]struct{}
	updates chan struct{}
	unsub   func()
	unwatch func()
	onClose func(*Channel)
	closed  bool
	once    sync.Once
}

func newChannel(conversationID string) *Channel {
	return &Channel{
		id:      conversationID,
		ids:     make(map[string]struct{}),
		updates: make(chan struct{}, 1),
	}
}

// ConversationID returns the conversation this channel shows.
func (c *Channel) ConversationID() string { return c.id }

// Messages returns a copy of the list, oldest first.
func (c *Channel) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.msgs...)
}

// Updates signals after the list changed. Signals are coalesced; read
// Messages for the current state.
func (c *Channel) Updates() <-chan struct{} { return c.updates }

// Close unsubscribes from socket pushes and reconnect notices. The shared
// socket stays open. Close is idempotent.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsub, unwatch, onClose := c.unsub, c.unwatch, c.onClose
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		if unwatch != nil {
			unwatch()
		}
		if onClose != nil {
			onClose(c)
		}
	})
}

// merge adds unseen messages and keeps the list sorted by CreatedAt. It
// returns how many were added.
func (c *Channel) merge(source string, msgs ...types.Message) int {
	c.mu.Lock()
	added := 0
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := c.ids[m.ID]; dup {
			duplicatesDropped.WithLabelValues(source).Inc()
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = c.id
		}
		c.ids[m.ID] = struct{}{}
		c.msgs = append(c.msgs, m)
		added++
	}
	if added > 0 {
		sort.SliceStable(c.msgs, func(i, j int) bool {
			return c.msgs[i].CreatedAt.Before(c.msgs[j].CreatedAt)
		})
	}
	c.mu.Unlock()

	if added > 0 {
		messagesMerged.WithLabelValues(source).Add(float64(added))
		select {
		case c.updates <- struct{}{}:
		default:
		}
	}
	return added
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) onFrame(f wire.Frame) {
	if f.ConversationID != c.id || f.Message == nil {
		return
	}
	c.merge("socket", *f.Message)
}
