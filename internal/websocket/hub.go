package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukerupert/choreboard/internal/notify"
)

// Message is a live update pushed to a family's connected clients.
type Message struct {
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	ID      string         `json:"id,omitempty"`
	ChildID string         `json:"child_id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewMessage builds a Message from a workflow event. The event type
// "completion_approved" becomes entity "completion", action "approved".
func NewMessage(e notify.Event) Message {
	entity, action, _ := strings.Cut(string(e.Type), "_")
	msg := Message{
		Type:    string(e.Type),
		Entity:  entity,
		Action:  action,
		ID:      e.ID,
		ChildID: e.ChildID,
	}
	if e.Title != "" || e.Points != 0 {
		msg.Extra = map[string]any{}
		if e.Title != "" {
			msg.Extra["title"] = e.Title
		}
		if e.Points != 0 {
			msg.Extra["points"] = e.Points
		}
	}
	return msg
}

// Hub tracks connected clients per family and fans messages out to them.
type Hub struct {
	mu       sync.RWMutex
	families map[string]map[*Client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		families: make(map[string]map[*Client]struct{}),
		logger:   logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.families[c.familyID]
	if !ok {
		set = make(map[*Client]struct{})
		h.families[c.familyID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.families[c.familyID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.families, c.familyID)
	}
}

// BroadcastFamily sends msg to every client of familyID. Clients whose buffer
// is full miss the message.
func (h *Hub) BroadcastFamily(familyID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.families[familyID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, dropping message", "family_id", familyID, "type", msg.Type)
		}
	}
}

// Notify implements notify.Notifier.
func (h *Hub) Notify(_ context.Context, e notify.Event) {
	h.BroadcastFamily(e.FamilyID, NewMessage(e))
}

// ClientCount returns the number of connected clients across all families.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.families {
		n += len(set)
	}
	return n
}

// FamilyClientCount returns the number of clients connected for familyID.
func (h *Hub) FamilyClientCount(familyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.families[familyID])
}
