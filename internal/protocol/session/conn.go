package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/gorilla/websocket"
)

var (
	ErrNonBinaryMessage = errors.New("session: websocket message is not binary")
	ErrTrailingBytes    = errors.New("session: trailing bytes after frame")
)

// FrameConn carries whole frames over one transport connection. Read errors
// are fatal for the connection: the stream position is no longer known.
type FrameConn interface {
	ReadFrame() (frame.Frame, error)
	WriteFrame(frame.Frame) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

type streamConn struct {
	net.Conn
	reader *bufio.Reader
	limits frame.Limits
}

// NewStreamConn frames a byte stream (TCP or TLS).
func NewStreamConn(conn net.Conn, limits frame.Limits) FrameConn {
	return &streamConn{Conn: conn, reader: bufio.NewReader(conn), limits: limits}
}

func (c *streamConn) ReadFrame() (frame.Frame, error) {
	return frame.ReadFrame(c.reader, c.limits)
}

func (c *streamConn) WriteFrame(f frame.Frame) error {
	return frame.WriteFrame(c.Conn, f, c.limits)
}

type websocketConn struct {
	*websocket.Conn
	limits frame.Limits
}

// NewWebSocketConn frames a websocket connection, one binary message per frame.
func NewWebSocketConn(conn *websocket.Conn, limits frame.Limits) FrameConn {
	conn.SetReadLimit(int64(limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	return &websocketConn{Conn: conn, limits: limits}
}

func (c *websocketConn) ReadFrame() (frame.Frame, error) {
	mt, data, err := c.Conn.ReadMessage()
	if err != nil {
		return frame.Frame{}, err
	}
	if mt != websocket.BinaryMessage {
		return frame.Frame{}, fmt.Errorf("%w: type=%d", ErrNonBinaryMessage, mt)
	}
	r := bytes.NewReader(data)
	f, err := frame.ReadFrame(r, c.limits)
	if err != nil {
		return frame.Frame{}, err
	}
	if r.Len() != 0 {
		return frame.Frame{}, fmt.Errorf("%w: %d", ErrTrailingBytes, r.Len())
	}
	return f, nil
}

func (c *websocketConn) WriteFrame(f frame.Frame) error {
	raw, err := frame.Marshal(f, c.limits)
	if err != nil {
		return err
	}
	return c.Conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (c *websocketConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.Conn.Close()
}
