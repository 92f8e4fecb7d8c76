// Package server runs the hackgame connection protocol: it frames client
// connections over TCP, TLS or websocket, routes each decoded packet to a
// handler, and hands command text to the command dispatcher.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/danmuck/hackgame/internal/account"
	"github.com/danmuck/hackgame/internal/command"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/logging"
	"github.com/danmuck/hackgame/internal/observability"
	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/protocol/packet"
	"github.com/danmuck/hackgame/internal/protocol/schema"
	"github.com/danmuck/hackgame/internal/protocol/session"
	"github.com/danmuck/hackgame/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Options tunes per-connection behaviour.
type Options struct {
	Session         session.Config
	Limits          frame.Limits
	CommandRate     rate.Limit
	CommandBurst    int
	StartingBalance int64
}

func DefaultOptions() Options {
	return Options{
		Session:         session.DefaultConfig(),
		Limits:          frame.DefaultLimits(),
		CommandRate:     10,
		CommandBurst:    20,
		StartingBalance: 100,
	}
}

// Server owns the packet dispatcher and the set of live connections.
type Server struct {
	opts       Options
	dispatcher *Dispatcher
	commands   *command.Dispatcher
	registry   *registry.Registry
	accounts   *account.Service
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	connsMu sync.Mutex
	conns   map[*Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
	active  atomic.Int64
}

// New builds a server with the disconnect, ping and command handlers
// registered.
func New(reg *registry.Registry, accounts *account.Service, commands *command.Dispatcher, opts Options) *Server {
	def := DefaultOptions()
	opts.Session = opts.Session.WithDefaults()
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = def.Limits
	}
	if opts.CommandRate <= 0 {
		opts.CommandRate = def.CommandRate
	}
	if opts.CommandBurst < 1 {
		opts.CommandBurst = def.CommandBurst
	}
	s := &Server{
		opts:       opts,
		dispatcher: NewDispatcher(),
		commands:   commands,
		registry:   reg,
		accounts:   accounts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.Component("server"),
		conns:  make(map[*Conn]struct{}),
	}
	s.dispatcher.MustRegister(schema.MsgDisconnect, s.handleDisconnect)
	s.dispatcher.MustRegister(schema.MsgPing, s.handlePing)
	s.dispatcher.MustRegister(schema.MsgCommand, s.handleCommand)
	return s
}

// Dispatcher exposes handler registration for extra packet types.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// ActiveConnections is the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Serve accepts connections on ln until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.ServeConn(ctx, session.NewStreamConn(nc, s.opts.Limits), TransportTCP)
	}
}

// WebSocketHandler upgrades requests and serves them until ctx is done.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		s.ServeConn(ctx, session.NewWebSocketConn(ws, s.opts.Limits), TransportWebSocket)
	})
}

// ServeConn runs the packet loop for one connection and blocks until it
// ends. Packets are handled one at a time in arrival order. After CloseAll
// new connections are closed immediately.
func (s *Server) ServeConn(ctx context.Context, fc session.FrameConn, transport string) {
	conn := newConn(fc, transport, s.opts.Session, rate.NewLimiter(s.opts.CommandRate, s.opts.CommandBurst))
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With().
		Str("conn", conn.ID()).
		Str("transport", transport).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	active := s.active.Add(1)
	observability.ConnectionOpened(transport)
	logger.Info().Int64("active", active).Msg("client connected")
	defer func() {
		remaining := s.active.Add(-1)
		observability.ConnectionClosed(transport)
		logger.Info().Int64("active", remaining).Msg("client disconnected")
	}()

	ctx = logger.WithContext(ctx)
	for {
		fr, err := conn.readFrame()
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug().Err(err).Msg("read frame")
			}
			return
		}
		observability.RecordPacket(schema.Name(fr.Header.MessageType), "in")

		p, err := packet.Decode(fr)
		if err != nil {
			s.violation(logger, fr.Header, err)
			continue
		}
		err = s.dispatcher.Dispatch(ctx, conn, Request{Header: fr.Header, Packet: p})
		switch {
		case err == nil:
		case errors.Is(err, errDisconnected):
			return
		case errors.Is(err, fault.ErrProtocol):
			s.violation(logger, fr.Header, err)
		default:
			logger.Warn().Err(err).Msg("handler failed, closing connection")
			return
		}
	}
}

func (s *Server) violation(logger zerolog.Logger, h frame.Header, err error) {
	reason := "schema"
	switch {
	case errors.Is(err, packet.ErrUnknownType):
		reason = "unknown_type"
	case errors.Is(err, fault.ErrProtocol):
		reason = "unhandled"
	}
	observability.RecordViolation(reason)
	logger.Warn().
		Err(err).
		Uint64("message_id", h.MessageID).
		Uint32("message_type", h.MessageType).
		Str("reason", reason).
		Msg("protocol violation, packet dropped")
}

// track registers c with the shutdown wait group. It fails once CloseAll
// has run so Wait never races a late Add.
func (s *Server) track(c *Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

// CloseAll closes every live connection and refuses new ones. Loops exit
// on the next read, after any in-flight handler returns.
func (s *Server) CloseAll() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Wait blocks until every connection loop, and the handler it was running,
// has returned. Call it after CloseAll.
func (s *Server) Wait() {
	s.wg.Wait()
}
