package signal

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	SendBuffer int
	// AllowedOrigins restricts the websocket handshake; "*" or empty allows any.
	AllowedOrigins []string
}

func (o *Options) setDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type SignalWSController struct {
	Engine  *app.Engine
	Metrics *metrics.Metrics

	limiter  *ConnRateLimiter
	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(engine *app.Engine, m *metrics.Metrics, limiter *ConnRateLimiter, opts Options) *SignalWSController {
	opts.setDefaults()
	if limiter == nil {
		limiter = NewConnRateLimiter(0, 0)
	}
	ctl := &SignalWSController{
		Engine:  engine,
		Metrics: m,
		limiter: limiter,
		opts:    opts,
	}
	ctl.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return originAllowed(opts.AllowedOrigins, r.Header.Get("Origin")) },
	}
	return ctl
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// WsSignalConn is a core.SignalConnection over a websocket. Frames are
// queued on a bounded channel and written by the connection's writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and serves it until the socket dies or
// ctx is cancelled. The client token set by the HTTP layer becomes the
// default user id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	clientToken := c.GetString("client_token")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ctl.Metrics.ConnOpened()
	ctl.Engine.Connect(sid, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, clientToken, conn)
}
