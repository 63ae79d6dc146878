package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistorySnapshot = 50
	DefaultMicSlots        = 8
	DefaultMaxMessageLen   = 1000
)

var (
	ErrUnknownSession = errors.New("connection is not registered")
	ErrNotMember      = errors.New("not a member of this room")

	errRoomClosed = errors.New("room closed")
)

type Options struct {
	// HistorySnapshot caps the messages sent in room_data.
	HistorySnapshot int
	MicSlots        int
	MaxMessageLen   int
	Policy          Policy
	// OnDropped is called for every frame a connection could not accept.
	OnDropped func(event string)
	Now       func() time.Time
}

func (o *Options) setDefaults() {
	if o.HistorySnapshot <= 0 {
		o.HistorySnapshot = DefaultHistorySnapshot
	}
	if o.MicSlots <= 0 {
		o.MicSlots = DefaultMicSlots
	}
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = DefaultMaxMessageLen
	}
	if o.Policy == nil {
		o.Policy = SimplePolicy{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine applies presence and chat events to the room store and fans the
// results out. State is mutated under the room lock; frames are sent after
// it is released, under the room's send lock.
//
// Events from one connection must be handled one at a time, which the
// signal adapter's read loop guarantees.
type Engine struct {
	Rooms    *RoomStore
	Registry *Registry

	opts Options
}

func NewEngine(rooms *RoomStore, reg *Registry, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{Rooms: rooms, Registry: reg, opts: opts}
}

func (e *Engine) MicSlots() int { return e.opts.MicSlots }

type delivery struct {
	to []core.SignalConnection
	ev protocol.Outbound
}

type outbox []delivery

func (o *outbox) add(ev protocol.Outbound, to ...core.SignalConnection) {
	if len(to) == 0 {
		return
	}
	*o = append(*o, delivery{to: to, ev: ev})
}

func (e *Engine) flush(out outbox) {
	for _, d := range out {
		frame, err := protocol.Encode(d.ev)
		if err != nil {
			log.Error().Err(err).Str("module", "app.engine").Msg("encode")
			continue
		}
		for _, c := range d.to {
			e.send(c, d.ev.EventName(), frame)
		}
	}
}

func (e *Engine) send(c core.SignalConnection, event string, frame core.Frame) {
	err := c.TrySend(frame)
	if err == nil {
		return
	}
	if e.opts.OnDropped != nil {
		e.opts.OnDropped(event)
	}
	switch e.opts.Policy.OnBackPressure(err) {
	case KickMember:
		log.Warn().Str("module", "app.engine").Str("event", event).Msg("slow consumer, closing")
		c.Close()
	case DropFrame:
		log.Debug().Str("module", "app.engine").Str("event", event).Msg("frame dropped")
	case NoAction:
	}
}

// mutate runs fn under the room lock. Frames fn queued are delivered under
// the room's send lock, which is taken before the state lock is released,
// so members receive a room's events in the order they were applied.
func (e *Engine) mutate(room *Room, fn func(out *outbox) error) error {
	var out outbox
	if err := e.locked(room, &out, fn); err != nil {
		return err
	}
	if len(out) == 0 {
		return nil
	}
	defer room.sendMu.Unlock()
	e.flush(out)
	return nil
}

func (e *Engine) locked(room *Room, out *outbox, fn func(out *outbox) error) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return errRoomClosed
	}
	if err := fn(out); err != nil {
		return err
	}
	if len(*out) > 0 {
		room.sendMu.Lock()
	}
	return nil
}

// quiet turns a lost race with room deletion into a no-op.
func quiet(err error) error {
	if errors.Is(err, errRoomClosed) {
		return nil
	}
	return err
}

// Unicast encodes ev and sends it to sid only.
func (e *Engine) Unicast(sid core.SessionID, ev protocol.Outbound) {
	conn, ok := e.Registry.Conn(sid)
	if !ok {
		return
	}
	var out outbox
	out.add(ev, conn)
	e.flush(out)
}

// Connect binds a fresh connection and greets it with its sid.
func (e *Engine) Connect(sid core.SessionID, conn core.SignalConnection) {
	e.Registry.Bind(sid, conn)
	e.Unicast(sid, protocol.Connected{SID: sid})
}

func (e *Engine) JoinRoom(sid core.SessionID, req protocol.JoinRoom) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	user, err := domain.NewUser(domain.UserID(req.UserID), req.UserName)
	if err != nil {
		return err
	}
	conn, ok := e.Registry.Conn(sid)
	if !ok {
		return ErrUnknownSession
	}

	if prev, ok := e.Registry.RoomOf(sid); ok && prev.RoomID != roomID {
		e.Registry.Release(sid)
		e.evict(sid, prev.RoomID)
		log.Info().Str("module", "app.engine").Str("sid", string(sid)).Str("from_room", string(prev.RoomID)).Msg("left previous room")
	}

	for {
		room := e.Rooms.GetOrCreate(roomID)
		err := e.mutate(room, func(out *outbox) error {
			now := e.opts.Now()
			existing, rejoin := room.members[sid]
			member := &roomMember{Member: domain.NewMember(user, now), conn: conn}
			if rejoin {
				member.JoinedAt = existing.JoinedAt
				member.seq = existing.seq
			} else {
				room.joinSeq++
				member.seq = room.joinSeq
			}
			room.members[sid] = member

			var sys domain.ChatMessage
			if !rejoin {
				sys = domain.SystemMessage(fmt.Sprintf("%s joined the room", user.Username), now)
				room.messages = append(room.messages, sys)
			}
			room.touch(now)
			out.add(protocol.RoomData{
				RoomID:    roomID,
				Messages:  room.recentMessages(e.opts.HistorySnapshot),
				MicSlots:  room.micSlots(),
				Users:     room.users(),
				UserCount: len(room.members),
				YourName:  user.Username,
			}, conn)
			if !rejoin {
				others := room.connsExcept(sid)
				out.add(protocol.UserJoined{UserName: user.Username, UserID: user.ID}, others...)
				out.add(protocol.MessageOf(sys), others...)
			}
			e.Registry.Assign(sid, roomID, user)
			return nil
		})
		if errors.Is(err, errRoomClosed) {
			// Lost a race with the last member leaving; the next
			// GetOrCreate returns a fresh room.
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	log.Info().Str("module", "app.engine").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined room")
	return nil
}

func (e *Engine) SendMessage(sid core.SessionID, req protocol.SendMessage) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	author, err := domain.NewUser("", req.UserName)
	if err != nil {
		return err
	}
	msg, err := domain.NewChatMessage(author.Username, req.Text, e.opts.MaxMessageLen, e.opts.Now())
	if err != nil {
		return err
	}

	room, ok := e.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return quiet(e.mutate(room, func(out *outbox) error {
		room.messages = append(room.messages, msg)
		room.touch(msg.Time)
		out.add(protocol.MessageOf(msg), room.conns()...)
		return nil
	}))
}

// JoinMic seats sid on a slot. A missing userId or userName falls back to
// what the connection joined the room with.
func (e *Engine) JoinMic(sid core.SessionID, req protocol.JoinMic) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	slot := domain.Slot(req.Slot)
	if !slot.Valid(e.opts.MicSlots) {
		return domain.ErrSlotOutOfRange
	}

	room, ok := e.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return quiet(e.mutate(room, func(out *outbox) error {
		m, ok := room.members[sid]
		if !ok {
			return ErrNotMember
		}
		id, name := domain.UserID(req.UserID), req.UserName
		if id == "" {
			id = m.ID
		}
		if strings.TrimSpace(name) == "" {
			name = m.Username
		}
		user, err := domain.NewUser(id, name)
		if err != nil {
			return err
		}

		all := room.conns()
		if prev, ok := room.slotOf(sid); ok && prev != slot {
			vacated := room.slots[prev]
			delete(room.slots, prev)
			out.add(protocol.UserLeftMic{Slot: prev, UserName: vacated.UserName}, all...)
		}
		room.slots[slot] = slotEntry{sid: sid, Occupant: domain.Occupant{UserName: user.Username, UserID: user.ID}}
		room.touch(e.opts.Now())
		out.add(protocol.UserJoinedMic{Slot: slot, UserName: user.Username, UserID: user.ID}, all...)
		return nil
	}))
}

func (e *Engine) LeaveMic(sid core.SessionID, req protocol.LeaveMic) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	slot := domain.Slot(req.Slot)
	if !slot.Valid(e.opts.MicSlots) {
		return domain.ErrSlotOutOfRange
	}

	room, ok := e.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return quiet(e.mutate(room, func(out *outbox) error {
		if _, ok := room.members[sid]; !ok {
			return ErrNotMember
		}
		if entry, ok := room.slots[slot]; ok {
			delete(room.slots, slot)
			room.touch(e.opts.Now())
			out.add(protocol.UserLeftMic{Slot: slot, UserName: entry.UserName}, room.conns()...)
		}
		return nil
	}))
}

// GetUserSlot answers only on a hit; callers time out on their own.
func (e *Engine) GetUserSlot(sid core.SessionID, req protocol.GetUserSlot) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	room, ok := e.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	if info, found := room.findSlot(domain.UserID(req.UserID)); found {
		e.Unicast(sid, info)
	}
	return nil
}

func (e *Engine) LeaveRoom(sid core.SessionID, req protocol.LeaveRoom) error {
	roomID, err := domain.ParseRoomID(req.RoomID)
	if err != nil {
		return err
	}
	assoc, ok := e.Registry.RoomOf(sid)
	if !ok || assoc.RoomID != roomID {
		return nil
	}
	e.Registry.Release(sid)
	e.evict(sid, roomID)
	log.Info().Str("module", "app.engine").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
	return nil
}

// Disconnect runs leave cleanup for a dying connection, then forgets it.
// A connection that never joined, or already left, is a no-op.
func (e *Engine) Disconnect(sid core.SessionID) {
	assoc, ok := e.Registry.Unbind(sid)
	if !ok {
		return
	}
	e.evict(sid, assoc.RoomID)
	log.Info().Str("module", "app.engine").Str("sid", string(sid)).Str("room", string(assoc.RoomID)).Msg("disconnect cleanup")
}

// evict removes sid from the room and vacates its slot. The room is
// deleted when its last member goes.
func (e *Engine) evict(sid core.SessionID, roomID domain.RoomID) {
	room, ok := e.Rooms.Get(roomID)
	if !ok {
		return
	}
	_ = e.mutate(room, func(out *outbox) error {
		m, ok := room.members[sid]
		if !ok {
			return nil
		}
		delete(room.members, sid)
		now := e.opts.Now()
		room.touch(now)

		others := room.conns()
		if slot, ok := room.slotOf(sid); ok {
			vacated := room.slots[slot]
			delete(room.slots, slot)
			out.add(protocol.UserLeftMic{Slot: slot, UserName: vacated.UserName}, others...)
		}
		out.add(protocol.UserLeft{UserName: m.Username}, others...)
		sys := domain.SystemMessage(fmt.Sprintf("%s left the room", m.Username), now)
		room.messages = append(room.messages, sys)
		out.add(protocol.MessageOf(sys), others...)

		if len(room.members) == 0 {
			room.closed = true
			e.Rooms.Delete(room)
		}
		return nil
	})
}
