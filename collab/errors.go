package collab

import "errors"

var (
	// ErrEmptyURL is returned by NewManager when Config.URL is empty.
	ErrEmptyURL = errors.New("collab: empty URL")
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("collab: manager closed")
)
