package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/protocol"
)

func newTestEngine(opts Options) *Engine {
	return NewEngine(NewRoomStore(), NewRegistry(), opts)
}

func connect(e *Engine, sid core.SessionID) *fakeConn {
	c := &fakeConn{}
	e.Connect(sid, c)
	c.reset()
	return c
}

func join(t *testing.T, e *Engine, sid core.SessionID, room, name string) {
	t.Helper()
	require.NoError(t, e.JoinRoom(sid, protocol.JoinRoom{RoomID: room, UserName: name, UserID: "id-" + name}))
}

func TestConnectGreetsWithSID(t *testing.T) {
	e := newTestEngine(Options{})
	c := &fakeConn{}
	e.Connect("s1", c)

	evs := c.events(protocol.EvConnected)
	require.Len(t, evs, 1)
	assert.Equal(t, core.SessionID("s1"), decodeData[protocol.Connected](t, evs[0]).SID)
}

func TestJoinRoomSnapshotAndBroadcast(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	b := connect(e, "b")

	join(t, e, "a", "R1", "alice")
	require.Equal(t, []string{protocol.EvRoomData}, a.types())

	a.reset()
	join(t, e, "b", "R1", "bob")

	snap := decodeData[protocol.RoomData](t, b.events(protocol.EvRoomData)[0])
	assert.Equal(t, domain.RoomID("R1"), snap.RoomID)
	assert.Equal(t, 2, snap.UserCount)
	assert.Equal(t, "bob", snap.YourName)
	require.Len(t, snap.Users, 2)
	assert.Equal(t, "alice", snap.Users[0].Username)
	assert.Empty(t, snap.MicSlots)

	assert.Equal(t, []string{protocol.EvUserJoined, protocol.EvNewMessage}, a.types())
	joined := decodeData[protocol.UserJoined](t, a.events(protocol.EvUserJoined)[0])
	assert.Equal(t, "bob", joined.UserName)
	assert.Equal(t, domain.UserID("id-bob"), joined.UserID)
	sys := decodeData[protocol.NewMessage](t, a.events(protocol.EvNewMessage)[0])
	assert.Equal(t, domain.SystemAuthor, sys.User)
	assert.Equal(t, "bob joined the room", sys.Text)

	assert.Empty(t, b.events(protocol.EvUserJoined), "joiner is not told about itself")
}

func TestConcurrentFirstJoinsCreateOneRoom(t *testing.T) {
	e := newTestEngine(Options{})
	const n = 32
	for i := range n {
		connect(e, core.SessionID(fmt.Sprintf("s%d", i)))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := core.SessionID(fmt.Sprintf("s%d", i))
			_ = e.JoinRoom(sid, protocol.JoinRoom{RoomID: "R1", UserName: string(sid)})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.Rooms.Len())
	st := e.Rooms.Stats()
	assert.Equal(t, n, st.Members)
}

func TestRoomDeletedAfterLastLeave(t *testing.T) {
	e := newTestEngine(Options{})
	sids := []core.SessionID{"a", "b", "c"}
	for _, sid := range sids {
		connect(e, sid)
		join(t, e, sid, "R1", string(sid))
	}
	require.Equal(t, 1, e.Rooms.Len())

	for _, sid := range sids {
		require.NoError(t, e.LeaveRoom(sid, protocol.LeaveRoom{RoomID: "R1", UserName: string(sid)}))
	}
	_, ok := e.Rooms.Get("R1")
	assert.False(t, ok)
}

func TestSendMessageToMissingRoomIsDropped(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")

	require.NoError(t, e.SendMessage("a", protocol.SendMessage{RoomID: "nope", UserName: "alice", Text: "hi"}))
	assert.Empty(t, a.types())
	_, ok := e.Rooms.Get("nope")
	assert.False(t, ok)
}

func TestSendMessageReachesEveryone(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := newTestEngine(Options{Now: func() time.Time { return now }})
	a := connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	a.reset()
	b.reset()

	require.NoError(t, e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: "  hello "}))
	for _, c := range []*fakeConn{a, b} {
		evs := c.events(protocol.EvNewMessage)
		require.Len(t, evs, 1)
		msg := decodeData[protocol.NewMessage](t, evs[0])
		assert.Equal(t, "alice", msg.User)
		assert.Equal(t, "hello", msg.Text)
		assert.True(t, msg.Time.Equal(now))
	}
}

func TestJoinMicLastWriteWins(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	a.reset()

	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "alice", UserID: "ua"}))
	require.NoError(t, e.JoinMic("b", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "bob", UserID: "ub"}))

	evs := a.events(protocol.EvUserJoinedMic)
	require.Len(t, evs, 2)
	assert.Equal(t, "alice", decodeData[protocol.UserJoinedMic](t, evs[0]).UserName)
	assert.Equal(t, "bob", decodeData[protocol.UserJoinedMic](t, evs[1]).UserName)

	room, _ := e.Rooms.Get("R1")
	require.Len(t, room.slots, 1)
	assert.Equal(t, "bob", room.slots[1].UserName)
	assert.Equal(t, core.SessionID("b"), room.slots[1].sid)
}

func TestJoinMicMovesBetweenSlots(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	join(t, e, "a", "R1", "alice")

	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "alice", UserID: "ua"}))
	a.reset()
	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 2, UserName: "alice", UserID: "ua"}))

	assert.Equal(t, []string{protocol.EvUserLeftMic, protocol.EvUserJoinedMic}, a.types())
	left := decodeData[protocol.UserLeftMic](t, a.events(protocol.EvUserLeftMic)[0])
	assert.Equal(t, domain.Slot(1), left.Slot)

	room, _ := e.Rooms.Get("R1")
	require.Len(t, room.slots, 1)
	_, ok := room.slots[2]
	assert.True(t, ok)
}

func TestLeaveMicOnEmptySlotIsNoop(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	join(t, e, "a", "R1", "alice")
	a.reset()

	require.NoError(t, e.LeaveMic("a", protocol.LeaveMic{RoomID: "R1", Slot: 3, UserName: "alice"}))
	assert.Empty(t, a.types())
}

func TestLeaveMicVacatesSlot(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	join(t, e, "a", "R1", "alice")
	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 3, UserName: "alice", UserID: "ua"}))
	a.reset()

	require.NoError(t, e.LeaveMic("a", protocol.LeaveMic{RoomID: "R1", Slot: 3, UserName: "alice"}))
	evs := a.events(protocol.EvUserLeftMic)
	require.Len(t, evs, 1)
	left := decodeData[protocol.UserLeftMic](t, evs[0])
	assert.Equal(t, domain.Slot(3), left.Slot)
	assert.Equal(t, "alice", left.UserName)
}

func TestGetUserSlotMissSendsNothing(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	join(t, e, "a", "R1", "alice")
	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "alice", UserID: "ua"}))
	a.reset()

	require.NoError(t, e.GetUserSlot("a", protocol.GetUserSlot{RoomID: "R1", UserID: "someone-else"}))
	assert.Empty(t, a.types())
}

func TestLeaveRoomThenDisconnectCleansOnce(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	b.reset()

	require.NoError(t, e.LeaveRoom("a", protocol.LeaveRoom{RoomID: "R1", UserName: "alice"}))
	e.Disconnect("a")

	assert.Len(t, b.events(protocol.EvUserLeft), 1)
	assert.Len(t, b.events(protocol.EvNewMessage), 1)
}

func TestDisconnectWithoutJoinIsNoop(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	e.Disconnect("a")
	e.Disconnect("a")
	assert.Equal(t, 0, e.Rooms.Len())
	assert.Equal(t, 0, e.Registry.Len())
}

func TestSnapshotCapsHistory(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	join(t, e, "a", "R1", "alice")
	for i := range 120 {
		require.NoError(t, e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: fmt.Sprintf("m%d", i)}))
	}

	b := connect(e, "b")
	join(t, e, "b", "R1", "bob")
	snap := decodeData[protocol.RoomData](t, b.events(protocol.EvRoomData)[0])
	require.Len(t, snap.Messages, DefaultHistorySnapshot)
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, "bob joined the room", last.Text)
	assert.Equal(t, "m119", snap.Messages[len(snap.Messages)-2].Text)

	room, _ := e.Rooms.Get("R1")
	assert.Len(t, room.messages, 122, "full history stays on the server")
}

func TestScenarioMicPresenceAcrossDisconnect(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "A")
	b := connect(e, "B")
	require.NoError(t, e.JoinRoom("A", protocol.JoinRoom{RoomID: "R1", UserName: "A", UserID: "uA"}))
	require.NoError(t, e.JoinRoom("B", protocol.JoinRoom{RoomID: "R1", UserName: "B", UserID: "uB"}))
	require.NoError(t, e.JoinMic("A", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "A", UserID: "uA"}))
	b.reset()

	require.NoError(t, e.GetUserSlot("B", protocol.GetUserSlot{RoomID: "R1", UserID: "uA"}))
	infos := b.events(protocol.EvUserSlotInfo)
	require.Len(t, infos, 1)
	info := decodeData[protocol.UserSlotInfo](t, infos[0])
	assert.Equal(t, domain.Slot(1), info.Slot)
	assert.Equal(t, "A", info.UserName)
	assert.Equal(t, domain.UserID("uA"), info.UserID)

	b.reset()
	e.Disconnect("A")
	assert.Equal(t, []string{protocol.EvUserLeftMic, protocol.EvUserLeft, protocol.EvNewMessage}, b.types())
	assert.Equal(t, domain.Slot(1), decodeData[protocol.UserLeftMic](t, b.events(protocol.EvUserLeftMic)[0]).Slot)
	assert.Equal(t, "A", decodeData[protocol.UserLeft](t, b.events(protocol.EvUserLeft)[0]).UserName)
	_, ok := e.Rooms.Get("R1")
	require.True(t, ok)

	require.NoError(t, e.LeaveRoom("B", protocol.LeaveRoom{RoomID: "R1", UserName: "B"}))
	_, ok = e.Rooms.Get("R1")
	assert.False(t, ok)
}

func TestJoinOtherRoomLeavesPrevious(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 2, UserName: "alice", UserID: "ua"}))
	b.reset()

	join(t, e, "a", "R2", "alice")

	assert.Equal(t, []string{protocol.EvUserLeftMic, protocol.EvUserLeft, protocol.EvNewMessage}, b.types())
	assoc, ok := e.Registry.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("R2"), assoc.RoomID)
	assert.Equal(t, 2, e.Rooms.Len())
}

func TestRejoinSameRoomIsQuiet(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	a.reset()
	b.reset()

	join(t, e, "a", "R1", "alicia")
	assert.Equal(t, []string{protocol.EvRoomData}, a.types())
	assert.Empty(t, b.types())
	snap := decodeData[protocol.RoomData](t, a.events(protocol.EvRoomData)[0])
	assert.Equal(t, 2, snap.UserCount)
	assert.Equal(t, "alicia", snap.YourName)
}

func TestValidationErrorsLeaveStateAlone(t *testing.T) {
	e := newTestEngine(Options{MicSlots: 4})
	a := connect(e, "a")
	join(t, e, "a", "R1", "alice")
	a.reset()

	assert.ErrorIs(t, e.JoinRoom("a", protocol.JoinRoom{RoomID: "", UserName: "x"}), domain.ErrRoomIDEmpty)
	assert.ErrorIs(t, e.JoinRoom("a", protocol.JoinRoom{RoomID: "R9", UserName: "  "}), domain.ErrUsernameEmpty)
	assert.ErrorIs(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 5, UserName: "alice"}), domain.ErrSlotOutOfRange)
	assert.ErrorIs(t, e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: "   "}), domain.ErrMessageEmpty)

	assert.Empty(t, a.types())
	assert.Equal(t, 1, e.Rooms.Len())
	room, _ := e.Rooms.Get("R1")
	assert.Empty(t, room.slots)
}

func TestMicRequiresMembership(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	connect(e, "b")
	join(t, e, "a", "R1", "alice")

	err := e.JoinMic("b", protocol.JoinMic{RoomID: "R1", Slot: 1, UserName: "bob"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestJoinRoomUnknownSession(t *testing.T) {
	e := newTestEngine(Options{})
	err := e.JoinRoom("ghost", protocol.JoinRoom{RoomID: "R1", UserName: "g"})
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, 0, e.Rooms.Len())
}

func TestBackpressurePolicy(t *testing.T) {
	var dropped []string
	e := newTestEngine(Options{
		Policy:    SimplePolicy{Kick: true},
		OnDropped: func(ev string) { dropped = append(dropped, ev) },
	})
	a := connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()

	require.NoError(t, e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: "hi"}))
	assert.Equal(t, []string{protocol.EvNewMessage}, dropped)
	assert.True(t, b.isClosed())
	assert.False(t, a.isClosed())
}

func TestJoinMicDefaultsToMemberIdentity(t *testing.T) {
	e := newTestEngine(Options{})
	a := connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	a.reset()
	b.reset()

	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 1}))
	mic := decodeData[protocol.UserJoinedMic](t, b.events(protocol.EvUserJoinedMic)[0])
	assert.Equal(t, domain.UserID("id-alice"), mic.UserID)
	assert.Equal(t, "alice", mic.UserName)

	require.NoError(t, e.GetUserSlot("b", protocol.GetUserSlot{RoomID: "R1", UserID: "id-alice"}))
	infos := b.events(protocol.EvUserSlotInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, domain.Slot(1), decodeData[protocol.UserSlotInfo](t, infos[0]).Slot)
}

func TestDisconnectVacatesWithOccupantName(t *testing.T) {
	e := newTestEngine(Options{})
	connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")
	require.NoError(t, e.JoinMic("a", protocol.JoinMic{RoomID: "R1", Slot: 2, UserName: "DJ Alice"}))
	b.reset()

	e.Disconnect("a")
	left := decodeData[protocol.UserLeftMic](t, b.events(protocol.EvUserLeftMic)[0])
	assert.Equal(t, "DJ Alice", left.UserName)
	assert.Equal(t, "alice", decodeData[protocol.UserLeft](t, b.events(protocol.EvUserLeft)[0]).UserName)
}

func TestPanicDuringFanOutReleasesRoom(t *testing.T) {
	e := newTestEngine(Options{OnDropped: func(string) { panic("boom") }})
	a := connect(e, "a")
	b := connect(e, "b")
	join(t, e, "a", "R1", "alice")
	join(t, e, "b", "R1", "bob")

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()
	assert.Panics(t, func() {
		_ = e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: "hi"})
	})
	b.mu.Lock()
	b.full = false
	b.mu.Unlock()
	a.reset()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.SendMessage("a", protocol.SendMessage{RoomID: "R1", UserName: "alice", Text: "again"})
		e.Disconnect("b")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("room stayed locked after a panic")
	}
	assert.Contains(t, a.types(), protocol.EvUserLeft)
}

func TestConcurrentMicFanOutMatchesState(t *testing.T) {
	e := newTestEngine(Options{})
	const n = 16
	conns := make([]*fakeConn, n)
	for i := range n {
		sid := core.SessionID(fmt.Sprintf("s%d", i))
		conns[i] = connect(e, sid)
		join(t, e, sid, "R1", string(sid))
	}
	for _, c := range conns {
		c.reset()
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := core.SessionID(fmt.Sprintf("s%d", i))
			_ = e.JoinMic(sid, protocol.JoinMic{RoomID: "R1", Slot: 1})
		}()
	}
	wg.Wait()

	room, _ := e.Rooms.Get("R1")
	holder := room.slots[1].UserName
	for _, c := range conns {
		evs := c.events(protocol.EvUserJoinedMic)
		require.Len(t, evs, n)
		assert.Equal(t, holder, decodeData[protocol.UserJoinedMic](t, evs[n-1]).UserName)
	}
}
