package proto

import (
	"encoding/json"
	"errors"
	"strings"
)

// Message types carried in the "type" discriminator.
const (
	TypeJoin        = "join"
	TypeUpdate      = "update"
	TypeGetContent  = "getContent"
	TypeWelcome     = "welcome"
	TypeJoinConfirm = "joinConfirm"
	TypeError       = "error"
)

// Error codes sent in the "code" field of error messages.
const (
	CodeBadRequest   = "bad_request"
	CodeNotInRoom    = "not_in_room"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
)

// UnauthorizedPrefix starts every authorization failure message. Older clients
// match on this substring instead of the code.
const UnauthorizedPrefix = "Unauthorized"

// ErrMissingType is returned by Decode for objects without a "type" field.
var ErrMissingType = errors.New("message type is required")

// Message is the single flat JSON object exchanged in both directions.
// Fields irrelevant to a given type are omitted on the wire.
type Message struct {
	Type            string `json:"type"`
	RoomID          string `json:"roomId,omitempty"`
	Content         string `json:"content,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	SenderID        string `json:"senderId,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	SubscriberCount int    `json:"subscriberCount,omitempty"`
	IsInitialLoad   bool   `json:"isInitialLoad,omitempty"`
	IsResponse      bool   `json:"isResponse,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Decode parses one wire message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// Encode serializes one wire message.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Unauthorized reports whether msg signals an authorization failure, either by
// code or by the legacy message substring.
func (m Message) Unauthorized() bool {
	if m.Type != TypeError {
		return false
	}
	if m.Code == CodeUnauthorized {
		return true
	}
	return strings.Contains(strings.ToLower(m.Message), strings.ToLower(UnauthorizedPrefix))
}
