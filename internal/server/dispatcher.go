package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/protocol/packet"
	"github.com/danmuck/hackgame/internal/protocol/schema"
)

var ErrHandlerExists = errors.New("server: handler already registered")

// Request is one decoded inbound packet with the header it arrived in.
type Request struct {
	Header frame.Header
	Packet packet.Packet
}

// Handler processes one packet on conn. A returned protocol fault is a
// violation and keeps the connection open; any other error closes it.
type Handler func(ctx context.Context, conn *Conn, req Request) error

// Dispatcher routes packets to handlers by message type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[uint32]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint32]Handler)}
}

func (d *Dispatcher) Register(packetType uint32, h Handler) error {
	if h == nil {
		return fmt.Errorf("server: nil handler for %s", schema.Name(packetType))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[packetType]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, schema.Name(packetType))
	}
	d.handlers[packetType] = h
	return nil
}

// MustRegister panics on registration failure. Used while wiring a server.
func (d *Dispatcher) MustRegister(packetType uint32, h Handler) {
	if err := d.Register(packetType, h); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler for req. A missing handler is a protocol fault.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, req Request) error {
	msgType := req.Packet.Type()
	d.mu.RLock()
	h, ok := d.handlers[msgType]
	d.mu.RUnlock()
	if !ok {
		return fault.Newf(fault.KindProtocol, "no handler for %s", schema.Name(msgType))
	}
	return h(ctx, conn, req)
}
