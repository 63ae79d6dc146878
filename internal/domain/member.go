package domain

import "time"

// Member represents one connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	User
	JoinedAt time.Time `json:"joinedAt"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user User, at time.Time) Member {
	return Member{User: user, JoinedAt: at}
}

// Occupant is whoever currently holds a mic slot.
type Occupant struct {
	UserName string `json:"userName"`
	UserID   UserID `json:"userId"`
}
