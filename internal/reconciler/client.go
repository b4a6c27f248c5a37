package reconciler

import (
	"sync"

	"github.com/chatsync/internal/event"
	"github.com/chatsync/internal/model"
)

// Client holds what one signed-in user sees: the open conversation and the
// last presence snapshot. Events for any other conversation are ignored.
type Client struct {
	mu       sync.RWMutex
	userID   string
	view     *View
	presence map[string]model.Presence
}

func NewClient(userID string) *Client {
	return &Client{userID: userID, presence: make(map[string]model.Presence)}
}

// Open switches the visible conversation and hydrates it from an authoritative read.
func (c *Client) Open(conv model.ConversationRef, msgs []model.Message, pins []model.Pin) *View {
	v := NewView(conv, c.userID)
	v.Hydrate(msgs, pins)
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
	return v
}

// View is the open conversation, or nil.
func (c *Client) View() *View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

func (c *Client) Presence() map[string]model.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.Presence, len(c.presence))
	for k, p := range c.presence {
		out[k] = p
	}
	return out
}

// Apply routes one received event and reports whether visible state changed.
func (c *Client) Apply(ev event.Envelope) bool {
	if ev.Type == event.PresenceUpdated {
		var p event.PresencePayload
		if err := ev.Decode(&p); err != nil {
			return false
		}
		c.mu.Lock()
		c.presence = p.Users
		if c.presence == nil {
			c.presence = make(map[string]model.Presence)
		}
		c.mu.Unlock()
		return true
	}
	v := c.View()
	if v == nil {
		return false
	}
	return v.Apply(ev)
}
