package core

import "github.com/vovakirdan/codesync/internal/proto"

// Error codes for domain errors.
const (
	ErrCodeBadRequest = proto.CodeBadRequest
	ErrCodeNotInRoom  = proto.CodeNotInRoom
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
