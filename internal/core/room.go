package core

import (
	"sync"
	"time"
)

// Room holds the latest buffer of one editing session and its subscribers.
type Room struct {
	ID string

	mu         sync.RWMutex
	content    string
	hasContent bool
	updatedAt  time.Time
	clients    map[*Client]struct{}
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	ID            string
	Subscribers   int
	ContentLength int
	HasContent    bool
	UpdatedAt     time.Time
}

// NewRoom constructs a room with no clients and no content.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

// Join subscribes c and calls onJoin with the current content and the
// subscriber count while the room is still locked, so no later update can
// reach c ahead of what onJoin sends. If onJoin returns false the
// subscription is undone. A nil onJoin just subscribes.
func (r *Room) Join(c *Client, onJoin func(content string, hasContent bool, subscribers int) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
	if onJoin != nil && !onJoin(r.content, r.hasContent, len(r.clients)) {
		delete(r.clients, c)
		return false
	}
	return true
}

// Leave removes a client from the room. Returns true if removed.
func (r *Room) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Update overwrites the content and hands it to every subscriber except
// sender; pass a nil sender to address all of them. deliver runs under the
// room lock, so subscribers observe writes in the order they were stored. It
// must not block. Returns the number of recipients.
func (r *Room) Update(sender *Client, content string, at time.Time, deliver func(*Client)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = content
	r.hasContent = true
	r.updatedAt = at

	recipients := 0
	for client := range r.clients {
		if client == sender {
			continue
		}
		recipients++
		if deliver != nil {
			deliver(client)
		}
	}
	return recipients
}

// Content returns the stored buffer and whether any update was ever applied.
func (r *Room) Content() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content, r.hasContent
}

// Subscribed reports whether c is in the room.
func (r *Room) Subscribed(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[c]
	return ok
}

// Count returns the number of subscribers.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return r.Count() == 0
}

// Info snapshots the room.
func (r *Room) Info() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomInfo{
		ID:            r.ID,
		Subscribers:   len(r.clients),
		ContentLength: len(r.content),
		HasContent:    r.hasContent,
		UpdatedAt:     r.updatedAt,
	}
}
