package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hackgame/internal/command"
	"github.com/danmuck/hackgame/internal/observability"
	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/protocol/packet"
	"github.com/danmuck/hackgame/internal/protocol/schema"
	"github.com/danmuck/hackgame/internal/protocol/session"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Conn is the server side of one client connection. Reads happen on the
// connection goroutine only; writes are serialised.
type Conn struct {
	id        string
	transport string
	fc        session.FrameConn
	cfg       session.Config

	writeMu sync.Mutex
	session *command.Session
	limiter *rate.Limiter

	lastPing  atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func newConn(fc session.FrameConn, transport string, cfg session.Config, limiter *rate.Limiter) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		transport: transport,
		fc:        fc,
		cfg:       cfg,
		session:   &command.Session{},
		limiter:   limiter,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Transport() string {
	return c.transport
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.fc.RemoteAddr()
}

// Session is the identity state owned by this connection.
func (c *Conn) Session() *command.Session {
	return c.session
}

// LastPing is the arrival time of the most recent ping, or zero.
func (c *Conn) LastPing() time.Time {
	ms := c.lastPing.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *Conn) markPing(at time.Time) {
	c.lastPing.Store(at.UnixMilli())
}

// Send writes p as one frame.
func (c *Conn) Send(messageID uint64, flags uint32, p packet.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.fc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.fc.WriteFrame(packet.Encode(messageID, flags, p)); err != nil {
		return err
	}
	observability.RecordPacket(schema.Name(p.Type()), "out")
	return nil
}

// Reply answers the request identified by messageID.
func (c *Conn) Reply(messageID uint64, p packet.Packet) error {
	flags := frame.FlagIsResponse
	if _, ok := p.(packet.CommandError); ok {
		flags |= frame.FlagIsError
	}
	return c.Send(messageID, flags, p)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.fc.Close()
	})
	return c.closeErr
}

func (c *Conn) readFrame() (frame.Frame, error) {
	_ = c.fc.SetReadDeadline(time.Now().Add(c.cfg.SessionDeadAfter))
	return c.fc.ReadFrame()
}
