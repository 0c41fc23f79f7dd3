package collab

// queue holds messages that could not be sent while offline. It keeps at most
// one update per room: a newer update drops the older one and takes its place
// at the tail. Other message types are never dropped.
type queue struct {
	items []Message
}

func (q *queue) push(msg Message) {
	if msg.Type == TypeUpdate {
		q.removeUpdate(msg.RoomID)
	}
	q.items = append(q.items, msg)
}

// requeue puts a message that failed to send back at the head, unless a newer
// update for the same room was queued in the meantime.
func (q *queue) requeue(msg Message) {
	if msg.Type == TypeUpdate && q.hasUpdate(msg.RoomID) {
		return
	}
	q.items = append([]Message{msg}, q.items...)
}

func (q *queue) pop() (Message, bool) {
	if len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	return msg, true
}

func (q *queue) len() int {
	return len(q.items)
}

func (q *queue) hasUpdate(room string) bool {
	for _, m := range q.items {
		if m.Type == TypeUpdate && m.RoomID == room {
			return true
		}
	}
	return false
}

func (q *queue) removeUpdate(room string) {
	for i, m := range q.items {
		if m.Type == TypeUpdate && m.RoomID == room {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
