package app

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/protocol"
)

type roomMember struct {
	domain.Member
	conn core.SignalConnection
	seq  uint64
}

type slotEntry struct {
	sid core.SessionID
	domain.Occupant
}

// Room is the in-memory state of one room. Every field is guarded by mu;
// the engine is the only writer. sendMu orders fan-out between mutations.
type Room struct {
	id domain.RoomID

	sendMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	members  map[core.SessionID]*roomMember
	messages []domain.ChatMessage
	slots    map[domain.Slot]slotEntry
	joinSeq  uint64

	createdAt time.Time
	updatedAt time.Time
}

func newRoom(id domain.RoomID, now time.Time) *Room {
	return &Room{
		id:        id,
		members:   make(map[core.SessionID]*roomMember),
		slots:     make(map[domain.Slot]slotEntry),
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) info() core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.RoomInfo{ID: r.id, MemberCount: len(r.members), MicsTaken: len(r.slots)}
}

func (r *Room) findSlot(uid domain.UserID) (protocol.UserSlotInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return protocol.UserSlotInfo{}, false
	}
	for _, s := range r.sortedSlots() {
		if e := r.slots[s]; e.UserID == uid {
			return protocol.UserSlotInfo{UserID: e.UserID, Slot: s, UserName: e.UserName}, true
		}
	}
	return protocol.UserSlotInfo{}, false
}

// The helpers below expect mu to be held.

func (r *Room) touch(now time.Time) { r.updatedAt = now }

func (r *Room) conns() []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.conn)
	}
	return out
}

func (r *Room) connsExcept(sid core.SessionID) []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(r.members))
	for id, m := range r.members {
		if id != sid {
			out = append(out, m.conn)
		}
	}
	return out
}

// slotOf returns the slot held by sid. A connection holds at most one.
func (r *Room) slotOf(sid core.SessionID) (domain.Slot, bool) {
	for slot, e := range r.slots {
		if e.sid == sid {
			return slot, true
		}
	}
	return 0, false
}

func (r *Room) sortedSlots() []domain.Slot {
	out := make([]domain.Slot, 0, len(r.slots))
	for s := range r.slots {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (r *Room) recentMessages(n int) []domain.ChatMessage {
	msgs := r.messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return slices.Clone(msgs)
}

func (r *Room) users() []domain.User {
	ms := make([]*roomMember, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	slices.SortFunc(ms, func(a, b *roomMember) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]domain.User, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.User)
	}
	return out
}

func (r *Room) micSlots() map[domain.Slot]domain.Occupant {
	out := make(map[domain.Slot]domain.Occupant, len(r.slots))
	for s, e := range r.slots {
		out[s] = e.Occupant
	}
	return out
}
