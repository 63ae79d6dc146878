package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// SystemAuthor signs the synthetic join/leave messages.
	SystemAuthor = "System"

	MaxRoomIDLen = 128
)

var (
	ErrRoomIDEmpty    = errors.New("room id empty")
	ErrRoomIDTooLong  = errors.New("room id too long")
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrSlotOutOfRange = errors.New("mic slot out of range")
)

// RoomID is caller supplied and case-sensitive.
type RoomID string

func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if utf8.RuneCountInString(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// Slot numbers a speaking position, starting at 1.
type Slot int

func (s Slot) Valid(max int) bool { return s >= 1 && int(s) <= max }

// ChatMessage is immutable once appended to a room.
type ChatMessage struct {
	User string    `json:"user"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// NewChatMessage trims text and enforces maxLen (in runes).
func NewChatMessage(author, text string, maxLen int, at time.Time) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrMessageEmpty
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return ChatMessage{}, ErrMessageTooLong
	}
	return ChatMessage{User: author, Text: text, Time: at}, nil
}

func SystemMessage(text string, at time.Time) ChatMessage {
	return ChatMessage{User: SystemAuthor, Text: text, Time: at}
}
