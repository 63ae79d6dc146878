package signal

import (
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/protocol"
)

func (ctl *SignalWSController) handlePing(sid core.SessionID) {
	ctl.Engine.Unicast(sid, protocol.Pong{})
}

func (ctl *SignalWSController) sendError(sid core.SessionID, event string, err error) {
	ctl.Engine.Unicast(sid, protocol.Error{Event: event, Message: err.Error()})
}
