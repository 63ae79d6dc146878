package app

import (
	"sync"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Association is what a connection is currently joined as.
type Association struct {
	RoomID domain.RoomID
	User   domain.User
}

type sessionEntry struct {
	conn   core.SignalConnection
	assoc  Association
	inRoom bool
}

// Registry maps live connections to the room they joined. It is the only
// way to recover room and name for a connection that is going away.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{conn: conn}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.conn, true
	}
	return nil, false
}

// Assign records the room a bound connection joined. Unknown sids are ignored.
func (r *Registry) Assign(sid core.SessionID, roomID domain.RoomID, user domain.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.assoc = Association{RoomID: roomID, User: user}
	e.inRoom = true
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("updated room")
	return true
}

func (r *Registry) RoomOf(sid core.SessionID) (Association, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || !e.inRoom {
		return Association{}, false
	}
	return e.assoc, true
}

// Release drops the room association but keeps the connection bound.
func (r *Registry) Release(sid core.SessionID) (Association, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || !e.inRoom {
		return Association{}, false
	}
	prev := e.assoc
	e.assoc = Association{}
	e.inRoom = false
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	return prev, true
}

// Unbind forgets the connection and returns its room association, if any.
func (r *Registry) Unbind(sid core.SessionID) (Association, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Association{}, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return e.assoc, e.inRoom
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
