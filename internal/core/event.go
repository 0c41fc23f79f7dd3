package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventWelcome confirms the identity assigned to a connection.
	EventWelcome EventKind = iota
	// EventJoinConfirm acknowledges a join with the current subscriber count.
	EventJoinConfirm
	// EventUpdate carries a full buffer snapshot for a room.
	EventUpdate
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind        EventKind
	Room        string
	ClientID    string // EventWelcome
	Subscribers int    // EventJoinConfirm
	Update      Update // EventUpdate
	// InitialLoad marks the catch-up snapshot sent right after a join.
	InitialLoad bool
	// Response marks a snapshot sent in reply to getContent.
	Response bool
	Error    *CoreError
}

func updateEvent(u Update) *Event {
	return &Event{Kind: EventUpdate, Room: u.Room, Update: u}
}

func errorEvent(room string, err *CoreError) *Event {
	return &Event{Kind: EventError, Room: room, Error: err}
}
