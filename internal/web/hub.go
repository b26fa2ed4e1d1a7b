package web

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/christian-lee/tutorvoice/internal/transcript"
	"github.com/christian-lee/tutorvoice/internal/tutor"
)

// event is what the panel receives over /api/events.
type event struct {
	Type     string               `json:"type"`
	State    tutor.State          `json:"state,omitempty"`
	Speaking *bool                `json:"speaking,omitempty"`
	Level    *float64             `json:"level,omitempty"`
	Message  string               `json:"message,omitempty"`
	Mode     tutor.Mode           `json:"mode,omitempty"`
	Label    string               `json:"label,omitempty"`
	Messages []transcript.Message `json:"messages,omitempty"`
	Status   *tutor.Status        `json:"status,omitempty"`
}

type client struct {
	send chan []byte
}

// Hub fans tutor notifications out to connected panels. It implements
// tutor.Observer and never blocks: a client that falls behind loses events.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) subscribe() *client {
	c := &client{send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients is the number of connected panels.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encode panel event", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) ConnectionStateChanged(s tutor.State) {
	h.broadcast(event{Type: "state", State: s})
}

func (h *Hub) SpeakingChanged(v bool) {
	h.broadcast(event{Type: "speaking", Speaking: &v})
}

func (h *Hub) VolumeChanged(level float64) {
	h.broadcast(event{Type: "volume", Level: &level})
}

func (h *Hub) Error(msg string) {
	h.broadcast(event{Type: "error", Message: msg})
}

func (h *Hub) TranscriptChanged(msgs []transcript.Message) {
	if msgs == nil {
		msgs = []transcript.Message{}
	}
	h.broadcast(event{Type: "transcript", Messages: msgs})
}

func (h *Hub) ModeChanged(m tutor.Mode) {
	h.broadcast(event{Type: "mode", Mode: m, Label: m.Label()})
}
