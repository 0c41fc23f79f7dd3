package collab

import "github.com/vovakirdan/codesync/internal/proto"

// Message is one wire message exchanged with the relay.
type Message = proto.Message

// Message types.
const (
	TypeJoin        = proto.TypeJoin
	TypeUpdate      = proto.TypeUpdate
	TypeGetContent  = proto.TypeGetContent
	TypeWelcome     = proto.TypeWelcome
	TypeJoinConfirm = proto.TypeJoinConfirm
	TypeError       = proto.TypeError
)
