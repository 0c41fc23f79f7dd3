package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin subscribes the client to a room.
	CommandJoin CommandKind = iota
	// CommandUpdate replaces the room buffer and fans it out.
	CommandUpdate
	// CommandGetContent asks for the current room buffer.
	CommandGetContent
)

func (k CommandKind) String() string {
	switch k {
	case CommandJoin:
		return "join"
	case CommandUpdate:
		return "update"
	case CommandGetContent:
		return "getContent"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Content string
	// Sender is the identity the client stamped on the message, if any.
	Sender string
}
