// Package realtime fans out selection events to admin viewers connected to
// a gallery over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/logging"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/metrics"
)

const (
	EventSelection   = "selection"
	EventFavorite    = "favorite"
	EventSelectAll   = "select_all"
	EventDeselectAll = "deselect_all"

	ActionAdd    = "add"
	ActionRemove = "remove"
)

var ErrHubClosed = errors.New("hub closed")

// Event is the JSON message pushed to viewers.
type Event struct {
	Type             string    `json:"type"`
	GalleryID        int64     `json:"gallery_id"`
	PhotoID          int64     `json:"photo_id,omitempty"`
	ClientIdentifier string    `json:"client_identifier"`
	Action           string    `json:"action,omitempty"`
	Count            *int      `json:"count,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Hub is the live connection registry: gallery id to the set of clients
// viewing it. It is created by main and handed to whoever broadcasts.
type Hub struct {
	mu        sync.RWMutex
	galleries map[int64]map[*Client]struct{}
	closed    bool

	log     logging.Logger
	metrics *metrics.Metrics
}

func NewHub(log logging.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		galleries: make(map[int64]map[*Client]struct{}),
		log:       log,
		metrics:   m,
	}
}

// Register adds c under its gallery and marks it open.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	set := h.galleries[c.galleryID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.galleries[c.galleryID] = set
	}
	set[c] = struct{}{}
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	h.metrics.ConnectionOpened()
	return nil
}

// Unregister removes c and closes it. Calling it for a client that is
// already gone is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := false
	if set, ok := h.galleries[c.galleryID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			removed = true
			if len(set) == 0 {
				delete(h.galleries, c.galleryID)
			}
		}
	}
	h.mu.Unlock()

	c.close()
	if removed {
		h.metrics.ConnectionClosed()
	}
}

// Broadcast queues event for every open client of the gallery. It never
// blocks: a client that is not open is skipped, and a client whose buffer
// is full is treated as stale and dropped.
func (h *Hub) Broadcast(galleryID int64, event Event) {
	h.mu.RLock()
	set := h.galleries[galleryID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	event.GalleryID = galleryID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error(context.Background(), "marshal broadcast", "gallery_id", galleryID, "type", event.Type, "error", err)
		return
	}

	for _, c := range targets {
		if c.State() != StateOpen {
			h.metrics.MessageDropped()
			continue
		}
		if !c.enqueue(payload) {
			h.metrics.MessageDropped()
			h.log.Warn(context.Background(), "dropping slow live connection", "gallery_id", galleryID, "connection_id", c.id)
			h.Unregister(c)
			continue
		}
		h.metrics.MessageSent(event.Type)
	}
}

// Connections reports how many clients are registered for the gallery.
func (h *Hub) Connections(galleryID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.galleries[galleryID])
}

// Close closes and deregisters every client. Registration fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, set := range h.galleries {
		for c := range set {
			all = append(all, c)
		}
	}
	h.galleries = make(map[int64]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
		h.metrics.ConnectionClosed()
	}
}
