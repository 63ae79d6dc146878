// Package protocol defines the JSON events exchanged over the signal socket.
// Every frame is an envelope {"type": "<event>", "data": {...}}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	EvJoinRoom    = "join_room"
	EvSendMessage = "send_message"
	EvJoinMic     = "join_mic"
	EvLeaveMic    = "leave_mic"
	EvGetUserSlot = "get_user_slot"
	EvLeaveRoom   = "leave_room"
	EvPing        = "ping"
)

var (
	ErrBadEnvelope  = errors.New("bad envelope")
	ErrUnknownEvent = errors.New("unknown event")
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client -> server event.
type Inbound interface {
	EventName() string
}

type JoinRoom struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	UserName string `json:"userName" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"max=64"`
}

type SendMessage struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	UserName string `json:"userName" validate:"required,max=64"`
	Text     string `json:"text" validate:"required"`
}

type JoinMic struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	Slot     int    `json:"slot" validate:"min=1"`
	UserName string `json:"userName" validate:"max=64"`
	UserID   string `json:"userId" validate:"max=64"`
}

type LeaveMic struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	Slot     int    `json:"slot" validate:"min=1"`
	UserName string `json:"userName" validate:"max=64"`
}

type GetUserSlot struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
	UserID string `json:"userId" validate:"required,max=64"`
}

type LeaveRoom struct {
	RoomID   string `json:"roomId" validate:"required,max=128"`
	UserName string `json:"userName" validate:"max=64"`
}

type Ping struct{}

func (JoinRoom) EventName() string    { return EvJoinRoom }
func (SendMessage) EventName() string { return EvSendMessage }
func (JoinMic) EventName() string     { return EvJoinMic }
func (LeaveMic) EventName() string    { return EvLeaveMic }
func (GetUserSlot) EventName() string { return EvGetUserSlot }
func (LeaveRoom) EventName() string   { return EvLeaveRoom }
func (Ping) EventName() string        { return EvPing }

// ValidationError reports a payload that decoded but broke its field schema.
type ValidationError struct {
	Event string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses one inbound frame into its typed event and validates it.
// The returned event name is set whenever the envelope itself parsed.
func Decode(raw []byte) (Inbound, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	var (
		ev  Inbound
		err error
	)
	switch env.Type {
	case EvJoinRoom:
		ev, err = decodeInto[JoinRoom](env.Data)
	case EvSendMessage:
		ev, err = decodeInto[SendMessage](env.Data)
	case EvJoinMic:
		ev, err = decodeInto[JoinMic](env.Data)
	case EvLeaveMic:
		ev, err = decodeInto[LeaveMic](env.Data)
	case EvGetUserSlot:
		ev, err = decodeInto[GetUserSlot](env.Data)
	case EvLeaveRoom:
		ev, err = decodeInto[LeaveRoom](env.Data)
	case EvPing:
		return Ping{}, env.Type, nil
	default:
		return nil, env.Type, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return nil, env.Type, &ValidationError{Event: env.Type, Err: err}
	}
	if err := validate.Struct(ev); err != nil {
		return nil, env.Type, &ValidationError{Event: env.Type, Err: err}
	}
	return ev, env.Type, nil
}

func decodeInto[T Inbound](data json.RawMessage) (Inbound, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
