package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/danmuck/hackgame/internal/command"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/observability"
	"github.com/danmuck/hackgame/internal/protocol/packet"
	"github.com/rs/zerolog"
)

// errDisconnected ends the connection loop without a response.
var errDisconnected = errors.New("server: client disconnected")

// unknownCommandLabel keeps client text out of metric labels.
const unknownCommandLabel = "unknown"

func (s *Server) handleDisconnect(ctx context.Context, _ *Conn, req Request) error {
	p := req.Packet.(packet.Disconnect)
	zerolog.Ctx(ctx).Info().Str("reason", p.Reason).Msg("disconnect requested")
	return errDisconnected
}

func (s *Server) handlePing(_ context.Context, conn *Conn, req Request) error {
	p := req.Packet.(packet.Ping)
	conn.markPing(time.Now())
	return conn.Reply(req.Header.MessageID, packet.Pong{Sequence: p.Sequence, Nonce: rand.Uint64()})
}

func (s *Server) handleCommand(ctx context.Context, conn *Conn, req Request) error {
	p := req.Packet.(packet.Command)
	id := req.Header.MessageID
	name, _, _ := command.Parse(p.Text)
	if !s.commands.Has(name) {
		name = unknownCommandLabel
	}
	if !conn.limiter.Allow() {
		observability.RecordCommand(name, string(fault.KindRateLimited), 0)
		return conn.Reply(id, packet.CommandError{
			Kind:    string(fault.KindRateLimited),
			Message: "too many commands, slow down",
		})
	}

	start := time.Now()
	res, err := s.execute(ctx, conn, p.Text)
	outcome := "ok"
	if err != nil {
		outcome = string(fault.KindOf(err))
	}
	observability.RecordCommand(name, outcome, time.Since(start))

	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("command", name).Msg("command failed")
		return conn.Reply(id, packet.CommandError{
			Kind:    string(fault.KindOf(err)),
			Message: fault.MessageOf(err),
		})
	}
	return conn.Reply(id, packet.CommandResult{Output: res.Output})
}

// execute runs one command, converting a handler panic into an execution fault.
func (s *Server) execute(ctx context.Context, conn *Conn, text string) (res command.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("command panicked")
			res = command.Result{}
			err = fault.Wrap(fault.KindExecution, "internal error", fmt.Errorf("panic: %v", r))
		}
	}()
	cc := &command.Context{
		Session:         conn.Session(),
		Registry:        s.registry,
		Accounts:        s.accounts,
		StartingBalance: s.opts.StartingBalance,
		Commands:        s.commands,
	}
	return s.commands.Execute(ctx, text, cc)
}
