package core

import (
	"sort"
	"sync"
)

// RoomStore maps room identifiers to rooms. Rooms live for the process
// lifetime; a room whose last subscriber left keeps its content so a later
// join still gets the catch-up snapshot.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomStore creates an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*Room)}
}

// Get returns the room if it exists.
func (s *RoomStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

// GetOrCreate returns the room, creating an empty one on first reference.
func (s *RoomStore) GetOrCreate(id string) *Room {
	if room, ok := s.Get(id); ok {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[id]; ok {
		return room
	}
	room := NewRoom(id)
	s.rooms[id] = room
	return room
}

// Len returns the number of known rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// List snapshots every room, sorted by id.
func (s *RoomStore) List() []RoomInfo {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
