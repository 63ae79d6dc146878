package app

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomStore maps room ids to live rooms. It only guards the map; room
// contents are guarded by each room's own lock.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
	now   func() time.Time
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[domain.RoomID]*Room), now: time.Now}
}

func (s *RoomStore) GetOrCreate(id domain.RoomID) *Room {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return room
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok = s.rooms[id]; ok {
		return room
	}
	room = newRoom(id, s.now())
	s.rooms[id] = room
	log.Info().Str("module", "app.store").Str("room", string(id)).Msg("room created")
	return room
}

func (s *RoomStore) Get(id domain.RoomID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

// Delete removes room if it is still the registered instance for its id.
func (s *RoomStore) Delete(room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rooms[room.id]; ok && cur == room {
		delete(s.rooms, room.id)
		log.Info().Str("module", "app.store").Str("room", string(room.id)).Msg("room deleted")
	}
}

func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// snapshot copies the room pointers so callers never take a room lock
// while holding the store lock.
func (s *RoomStore) snapshot() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

func (s *RoomStore) List() []core.RoomInfo {
	rooms := s.snapshot()
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.info())
	}
	return out
}

func (s *RoomStore) Stats() core.Stats {
	var st core.Stats
	for _, info := range s.List() {
		st.Rooms++
		st.Members += info.MemberCount
	}
	return st
}
