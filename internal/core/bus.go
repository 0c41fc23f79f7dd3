package core

import "context"

// Bus relays accepted updates between relay instances. Implementations must
// deliver updates published by other nodes; delivering a node's own updates
// back to it is allowed, the hub filters them by Origin.
type Bus interface {
	Publish(ctx context.Context, u Update) error
	// Subscribe blocks, invoking fn for every update, until ctx is done.
	Subscribe(ctx context.Context, fn func(Update)) error
}
