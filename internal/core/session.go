package core

import "github.com/dkeye/VoiceRelay/internal/domain"

// SessionID identifies one live transport connection.
type SessionID string

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	ID          domain.RoomID `json:"roomId"`
	MemberCount int           `json:"userCount"`
	MicsTaken   int           `json:"micsTaken"`
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}
