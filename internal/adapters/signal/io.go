package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, clientToken string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Engine.Disconnect(sid)
		ctl.limiter.Forget(sid)
		ctl.Metrics.ConnClosed()
		cancel()
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(sid, clientToken, data)
		}
	}
}

// handleSignal decodes one frame and applies it. A panic while handling an
// event is logged and the event dropped; the connection stays up.
func (ctl *SignalWSController) handleSignal(sid core.SessionID, clientToken string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Interface("panic", r).Msg("event handler panic")
		}
	}()

	ev, name, err := protocol.Decode(data)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, protocol.ErrBadEnvelope) || errors.Is(err, protocol.ErrUnknownEvent) {
			reason = "decode"
		}
		ctl.Metrics.Rejected(reason)
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", name).Msg("rejected frame")
		ctl.sendError(sid, name, err)
		return
	}
	if !ctl.limiter.Allow(sid) {
		ctl.Metrics.Rejected("rate")
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", name).Msg("rate limited")
		ctl.sendError(sid, name, ErrRateLimited)
		return
	}
	ctl.Metrics.Event(name)

	switch ev := ev.(type) {
	case protocol.JoinRoom:
		if ev.UserID == "" {
			ev.UserID = clientToken
		}
		if ev.UserID == "" {
			ev.UserID = string(sid)
		}
		err = ctl.Engine.JoinRoom(sid, ev)
	case protocol.SendMessage:
		err = ctl.Engine.SendMessage(sid, ev)
	case protocol.JoinMic:
		err = ctl.Engine.JoinMic(sid, ev)
	case protocol.LeaveMic:
		err = ctl.Engine.LeaveMic(sid, ev)
	case protocol.GetUserSlot:
		err = ctl.Engine.GetUserSlot(sid, ev)
	case protocol.LeaveRoom:
		err = ctl.Engine.LeaveRoom(sid, ev)
	case protocol.Ping:
		ctl.handlePing(sid)
	default:
		log.Warn().Str("module", "signal").Str("type", name).Msg("unhandled event")
	}
	if err != nil {
		ctl.Metrics.Rejected("invalid")
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", name).Msg("event rejected")
		ctl.sendError(sid, name, err)
	}
}
