package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
)

const (
	EvConnected     = "connected"
	EvRoomData      = "room_data"
	EvUserJoined    = "user_joined"
	EvUserLeft      = "user_left"
	EvNewMessage    = "new_message"
	EvUserJoinedMic = "user_joined_mic"
	EvUserLeftMic   = "user_left_mic"
	EvUserSlotInfo  = "user_slot_info"
	EvError         = "error"
	EvPong          = "pong"
)

// Outbound is implemented by every server -> client event.
type Outbound interface {
	EventName() string
}

type Connected struct {
	SID core.SessionID `json:"sid"`
}

type RoomData struct {
	RoomID    domain.RoomID                   `json:"roomId"`
	Messages  []domain.ChatMessage            `json:"messages"`
	MicSlots  map[domain.Slot]domain.Occupant `json:"micSlots"`
	Users     []domain.User                   `json:"users"`
	UserCount int                             `json:"userCount"`
	YourName  string                          `json:"yourName"`
}

type UserJoined struct {
	UserName string        `json:"userName"`
	UserID   domain.UserID `json:"userId"`
}

type UserLeft struct {
	UserName string `json:"userName"`
}

type NewMessage struct {
	User string    `json:"user"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type UserJoinedMic struct {
	Slot     domain.Slot   `json:"slot"`
	UserName string        `json:"userName"`
	UserID   domain.UserID `json:"userId"`
}

type UserLeftMic struct {
	Slot     domain.Slot `json:"slot"`
	UserName string      `json:"userName"`
}

type UserSlotInfo struct {
	UserID   domain.UserID `json:"userId"`
	Slot     domain.Slot   `json:"slot"`
	UserName string        `json:"userName"`
}

// Error tells the sender its event was rejected.
type Error struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

type Pong struct{}

func (Connected) EventName() string     { return EvConnected }
func (RoomData) EventName() string      { return EvRoomData }
func (UserJoined) EventName() string    { return EvUserJoined }
func (UserLeft) EventName() string      { return EvUserLeft }
func (NewMessage) EventName() string    { return EvNewMessage }
func (UserJoinedMic) EventName() string { return EvUserJoinedMic }
func (UserLeftMic) EventName() string   { return EvUserLeftMic }
func (UserSlotInfo) EventName() string  { return EvUserSlotInfo }
func (Error) EventName() string         { return EvError }
func (Pong) EventName() string          { return EvPong }

func MessageOf(m domain.ChatMessage) NewMessage {
	return NewMessage{User: m.User, Text: m.Text, Time: m.Time}
}

// Encode wraps ev in its envelope.
func Encode(ev Outbound) (core.Frame, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	b, err := json.Marshal(Envelope{Type: ev.EventName(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", ev.EventName(), err)
	}
	return b, nil
}
