package core

import "time"

// Update is the domain model for one full-buffer write to a room.
type Update struct {
	Room    string    `json:"room"`
	Content string    `json:"content"`
	Sender  string    `json:"sender,omitempty"`
	At      time.Time `json:"at"`
	// Origin is the node that accepted the write; set for bus traffic only.
	Origin string `json:"origin,omitempty"`
}
