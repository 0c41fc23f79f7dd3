package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HubConfig tunes relay policy.
type HubConfig struct {
	// RequireJoin rejects updates from connections that are not subscribed
	// to the target room.
	RequireJoin bool
	// PingInterval is the liveness sweep period; zero disables the sweeper.
	PingInterval time.Duration
	// NodeID identifies this instance on the bus.
	NodeID string
}

// Hub is the broadcast relay: it owns the room store and the connection
// registry and applies client commands to them.
//
// Handle runs on the calling goroutine, so commands of one connection are
// processed in arrival order while different connections run concurrently.
// Consistency between subscriber sets and fan-out is provided by the per-room
// locks in Room.
type Hub struct {
	rooms    *RoomStore
	registry *Registry
	bus      Bus
	cfg      HubConfig
	log      *zerolog.Logger
	now      func() time.Time
}

// NewHub creates a relay over rooms. bus may be nil for a single instance.
func NewHub(rooms *RoomStore, bus Bus, cfg HubConfig, logger *zerolog.Logger) *Hub {
	if rooms == nil {
		rooms = NewRoomStore()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		rooms:    rooms,
		registry: NewRegistry(),
		bus:      bus,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}
}

// Rooms exposes the room store for read-only introspection.
func (h *Hub) Rooms() *RoomStore {
	return h.rooms
}

// Clients returns the number of registered connections.
func (h *Hub) Clients() int {
	return h.registry.Len()
}

// Run drives the liveness sweeper and the bus subscription until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.bus != nil {
		go h.subscribe(ctx)
	}

	if h.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// RegisterClient adds c to the registry and greets it with its identity.
func (h *Hub) RegisterClient(c *Client) {
	if !h.registry.Register(c) {
		return
	}
	h.log.Debug().Str("conn_id", c.ID).Str("client_id", c.Tag).Msg("client registered")
	h.deliver(c, &Event{Kind: EventWelcome, ClientID: c.Tag})
}

// UnregisterClient removes c from the registry and from every room it joined.
// Safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	removed := h.registry.Unregister(c)
	rooms := c.dropRooms()
	for _, id := range rooms {
		if room, ok := h.rooms.Get(id); ok {
			room.Leave(c)
		}
	}
	if removed {
		h.log.Debug().Str("conn_id", c.ID).Strs("rooms", rooms).Msg("client unregistered")
	}
}

// Handle applies one command from c.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd *Command) {
	if cmd == nil {
		return
	}
	if cmd.Room == "" {
		h.deliver(c, errorEvent("", coreError(ErrCodeBadRequest, "roomId is required")))
		return
	}

	switch cmd.Kind {
	case CommandJoin:
		h.join(c, cmd.Room)
	case CommandUpdate:
		h.update(ctx, c, cmd)
	case CommandGetContent:
		h.getContent(c, cmd.Room)
	default:
		h.log.Warn().Str("conn_id", c.ID).Stringer("kind", cmd.Kind).Msg("unknown command ignored")
	}
}

func (h *Hub) join(c *Client, roomID string) {
	room := h.rooms.GetOrCreate(roomID)
	count := 0
	ok := room.Join(c, func(content string, hasContent bool, subscribers int) bool {
		if !c.addRoom(roomID) {
			// Unregistered while the join was in flight.
			return false
		}
		count = subscribers
		h.deliver(c, &Event{Kind: EventJoinConfirm, Room: roomID, Subscribers: subscribers})
		if hasContent {
			h.deliver(c, &Event{
				Kind:        EventUpdate,
				Room:        roomID,
				Update:      Update{Room: roomID, Content: content},
				InitialLoad: true,
			})
		}
		return true
	})
	if !ok {
		return
	}

	h.log.Debug().Str("conn_id", c.ID).Str("room_id", roomID).Int("subscribers", count).Msg("client joined room")
}

func (h *Hub) update(ctx context.Context, c *Client, cmd *Command) {
	room, ok := h.rooms.Get(cmd.Room)
	if h.cfg.RequireJoin && (!ok || !room.Subscribed(c)) {
		h.deliver(c, errorEvent(cmd.Room, coreError(ErrCodeNotInRoom, fmt.Sprintf("join room %q before sending updates", cmd.Room))))
		return
	}
	if !ok {
		room = h.rooms.GetOrCreate(cmd.Room)
	}

	sender := cmd.Sender
	if sender == "" {
		sender = c.Tag
	}
	u := Update{Room: cmd.Room, Content: cmd.Content, Sender: sender, At: h.now()}

	ev := updateEvent(u)
	recipients := room.Update(c, u.Content, u.At, func(rc *Client) { h.deliver(rc, ev) })

	h.log.Debug().
		Str("conn_id", c.ID).
		Str("room_id", cmd.Room).
		Int("bytes", len(u.Content)).
		Int("recipients", recipients).
		Msg("update broadcast")

	if h.bus != nil {
		u.Origin = h.cfg.NodeID
		if err := h.bus.Publish(ctx, u); err != nil {
			h.log.Warn().Err(err).Str("room_id", cmd.Room).Msg("publish update to bus")
		}
	}
}

func (h *Hub) getContent(c *Client, roomID string) {
	room, ok := h.rooms.Get(roomID)
	if !ok {
		return
	}
	content, hasContent := room.Content()
	if !hasContent {
		return
	}
	h.deliver(c, &Event{
		Kind:     EventUpdate,
		Room:     roomID,
		Update:   Update{Room: roomID, Content: content},
		Response: true,
	})
}

// applyRemote stores an update accepted by another node and fans it out to
// every local subscriber.
func (h *Hub) applyRemote(u Update) {
	if u.Origin != "" && u.Origin == h.cfg.NodeID {
		return
	}
	if u.At.IsZero() {
		u.At = h.now()
	}
	room := h.rooms.GetOrCreate(u.Room)
	ev := updateEvent(u)
	room.Update(nil, u.Content, u.At, func(rc *Client) { h.deliver(rc, ev) })
}

func (h *Hub) subscribe(ctx context.Context) {
	if err := h.bus.Subscribe(ctx, h.applyRemote); err != nil && ctx.Err() == nil {
		h.log.Error().Err(err).Msg("bus subscription ended")
	}
}

func (h *Hub) deliver(c *Client, ev *Event) {
	if !c.send(ev) {
		h.log.Warn().Str("conn_id", c.ID).Str("room_id", ev.Room).Msg("dropping event for slow consumer")
	}
}
