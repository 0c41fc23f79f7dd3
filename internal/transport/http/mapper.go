package http

import (
	"github.com/vovakirdan/codesync/internal/core"
	"github.com/vovakirdan/codesync/internal/proto"
)

// inboundToCommand maps a wire message to a hub command. The second result is
// false for message types the relay does not accept.
func inboundToCommand(msg proto.Message) (*core.Command, bool) {
	switch msg.Type {
	case proto.TypeJoin:
		return &core.Command{Kind: core.CommandJoin, Room: msg.RoomID}, true
	case proto.TypeUpdate:
		return &core.Command{
			Kind:    core.CommandUpdate,
			Room:    msg.RoomID,
			Content: msg.Content,
			Sender:  msg.ClientID,
		}, true
	case proto.TypeGetContent:
		return &core.Command{Kind: core.CommandGetContent, Room: msg.RoomID}, true
	default:
		return nil, false
	}
}

func outboundFromEvent(event *core.Event) proto.Message {
	switch event.Kind {
	case core.EventWelcome:
		return proto.Message{Type: proto.TypeWelcome, ClientID: event.ClientID}
	case core.EventJoinConfirm:
		return proto.Message{
			Type:            proto.TypeJoinConfirm,
			RoomID:          event.Room,
			SubscriberCount: event.Subscribers,
		}
	case core.EventUpdate:
		msg := proto.Message{
			Type:          proto.TypeUpdate,
			RoomID:        event.Room,
			Content:       event.Update.Content,
			SenderID:      event.Update.Sender,
			IsInitialLoad: event.InitialLoad,
			IsResponse:    event.Response,
		}
		if !event.Update.At.IsZero() {
			msg.Timestamp = event.Update.At.UnixMilli()
		}
		return msg
	case core.EventError:
		if event.Error == nil {
			return errorMessage(event.Room, "unknown", "unknown error")
		}
		return errorMessage(event.Room, event.Error.Code, event.Error.Message)
	default:
		return errorMessage(event.Room, "unknown", "unknown event")
	}
}

func errorMessage(room, code, text string) proto.Message {
	return proto.Message{Type: proto.TypeError, RoomID: room, Code: code, Message: text}
}
