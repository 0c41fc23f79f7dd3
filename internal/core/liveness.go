package core

import "context"

// sweep terminates clients that did not answer the previous ping and pings
// the rest. A client is evicted after one full interval without a pong.
func (h *Hub) sweep(ctx context.Context) {
	for _, c := range h.registry.Snapshot() {
		if !c.alive.Swap(false) {
			h.log.Info().Str("conn_id", c.ID).Strs("rooms", c.Rooms()).Msg("terminating unresponsive client")
			h.UnregisterClient(c)
			if c.link != nil {
				c.link.Terminate("ping timeout")
			}
			continue
		}
		if c.link == nil {
			continue
		}
		go h.ping(ctx, c)
	}
}

func (h *Hub) ping(ctx context.Context, c *Client) {
	pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PingInterval)
	defer cancel()

	if err := c.link.Ping(pingCtx); err != nil {
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("ping failed")
		return
	}
	c.MarkAlive()
}
