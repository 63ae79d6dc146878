package app

import (
	"errors"

	"github.com/dkeye/VoiceRelay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(err error) BackpressureAction
}

// SimplePolicy drops the frame, or closes the slow connection when Kick is set.
// Closing ends the read loop, which runs the normal disconnect cleanup.
type SimplePolicy struct {
	Kick bool
}

func (p SimplePolicy) OnBackPressure(err error) BackpressureAction {
	if errors.Is(err, core.ErrConnClosed) {
		return NoAction
	}
	if p.Kick {
		return KickMember
	}
	return DropFrame
}
