package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

const defaultEventBuffer = 64

// Link is the transport side of a client, used by the liveness sweeper.
type Link interface {
	// Ping blocks until the peer answers or ctx ends.
	Ping(ctx context.Context) error
	// Terminate drops the connection without a close handshake.
	Terminate(reason string)
}

// Client is a connected editor as seen by the core layer.
type Client struct {
	ID string
	// Tag is the identity the peer declared for itself (its clientId).
	Tag    string
	Events chan *Event

	link  Link
	alive atomic.Bool

	mu       sync.Mutex
	rooms    map[string]struct{}
	detached bool
}

// NewClient constructs a client with an initialized event channel.
// A non-positive buffer selects the default size.
func NewClient(id, tag string, link Link, buffer int) *Client {
	if tag == "" {
		tag = id
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	c := &Client{
		ID:     id,
		Tag:    tag,
		Events: make(chan *Event, buffer),
		link:   link,
		rooms:  make(map[string]struct{}),
	}
	c.alive.Store(true)
	return c
}

// MarkAlive records a heartbeat answer.
func (c *Client) MarkAlive() {
	c.alive.Store(true)
}

// Alive reports whether the client answered since the last sweep.
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// Rooms returns the sorted list of rooms the client is subscribed to.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// addRoom records a subscription. Returns false once the client is detached.
func (c *Client) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) dropRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.rooms = make(map[string]struct{})
	c.detached = true
	return rooms
}

// send delivers an event without blocking. Returns false if the buffer is full.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
