// Package client is a framed hackgame client used by hackctl and tests.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/protocol/packet"
	"github.com/danmuck/hackgame/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired  = errors.New("client: address required")
	ErrClosed           = errors.New("client: connection closed")
	ErrResponseMismatch = errors.New("client: response does not match request")
)

type Config struct {
	// Address is host:port for TCP/TLS, or a ws:// or wss:// URL.
	Address            string
	Session            session.Config
	MaxConnectAttempts int
	Limits             frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Session:            session.DefaultConfig(),
		MaxConnectAttempts: 3,
		Limits:             frame.DefaultLimits(),
	}
}

// Client is one connection to hackd. Requests are serialised: each call
// writes a request and reads until the matching response.
type Client struct {
	cfg    Config
	fc     session.FrameConn
	mu     sync.Mutex
	nextID atomic.Uint64
}

// Dial connects with retry and backoff according to cfg.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		fc, err := dial(ctx, cfg)
		if err == nil {
			c := &Client{cfg: cfg, fc: fc}
			c.nextID.Store(uint64(time.Now().UnixNano()))
			return c, nil
		}
		log.Warn().Str("component", "client").Int("attempt", attempt).Str("addr", cfg.Address).Err(err).Msg("dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, err
		}
		timer := time.NewTimer(session.NextBackoffDelay(cfg.Session.Backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func dial(ctx context.Context, cfg Config) (session.FrameConn, error) {
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(cfg.Address, "ws://") || strings.HasPrefix(cfg.Address, "wss://") {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.Session.HandshakeTimeout}
		if strings.HasPrefix(cfg.Address, "wss://") {
			tlsCfg, err := cfg.Session.ClientTLSConfig(hostPort(cfg.Address))
			if err != nil {
				return nil, err
			}
			dialer.TLSClientConfig = tlsCfg
		}
		ws, _, err := dialer.DialContext(ctx, cfg.Address, nil)
		if err != nil {
			return nil, err
		}
		return session.NewWebSocketConn(ws, cfg.Limits), nil
	}

	dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if !cfg.Session.TLS.Enabled {
		return session.NewStreamConn(raw, cfg.Limits), nil
	}
	tlsCfg, err := cfg.Session.ClientTLSConfig(cfg.Address)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return session.NewStreamConn(conn, cfg.Limits), nil
}

// hostPort extracts host:port from a websocket URL.
func hostPort(url string) string {
	rest := url[strings.Index(url, "://")+3:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if _, _, err := net.SplitHostPort(rest); err != nil {
		return net.JoinHostPort(rest, "443")
	}
	return rest
}

func (c *Client) Close() error {
	return c.fc.Close()
}

// Send writes p as a request and returns its message id.
func (c *Client) Send(ctx context.Context, p packet.Packet) (uint64, error) {
	id := c.nextID.Add(1)
	if err := c.fc.SetWriteDeadline(c.deadline(ctx, c.cfg.Session.WriteTimeout)); err != nil {
		return 0, err
	}
	if err := c.fc.WriteFrame(packet.Encode(id, 0, p)); err != nil {
		return 0, err
	}
	return id, nil
}

// SendFrame writes a raw frame. Used to exercise protocol handling.
func (c *Client) SendFrame(ctx context.Context, f frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fc.SetWriteDeadline(c.deadline(ctx, c.cfg.Session.WriteTimeout)); err != nil {
		return err
	}
	return c.fc.WriteFrame(f)
}

// Receive reads the next frame and decodes it.
func (c *Client) Receive(ctx context.Context) (frame.Header, packet.Packet, error) {
	if err := c.fc.SetReadDeadline(c.deadline(ctx, c.cfg.Session.ReadTimeout)); err != nil {
		return frame.Header{}, nil, err
	}
	fr, err := c.fc.ReadFrame()
	if err != nil {
		return frame.Header{}, nil, err
	}
	p, err := packet.Decode(fr)
	if err != nil {
		return fr.Header, nil, err
	}
	return fr.Header, p, nil
}

// roundTrip sends p and waits for the response carrying the same id.
func (c *Client) roundTrip(ctx context.Context, p packet.Packet) (frame.Header, packet.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.Send(ctx, p)
	if err != nil {
		return frame.Header{}, nil, err
	}
	h, resp, err := c.Receive(ctx)
	if err != nil {
		return frame.Header{}, nil, err
	}
	if !h.IsResponse() || h.MessageID != id {
		return h, resp, fmt.Errorf("%w: id=%d got=%d", ErrResponseMismatch, id, h.MessageID)
	}
	return h, resp, nil
}

// Ping sends seq and returns the pong and round trip time.
func (c *Client) Ping(ctx context.Context, seq uint64) (packet.Pong, time.Duration, error) {
	start := time.Now()
	_, resp, err := c.roundTrip(ctx, packet.Ping{Sequence: seq})
	if err != nil {
		return packet.Pong{}, 0, err
	}
	pong, ok := resp.(packet.Pong)
	if !ok {
		return packet.Pong{}, 0, fmt.Errorf("%w: expected pong, got type %d", ErrResponseMismatch, resp.Type())
	}
	return pong, time.Since(start), nil
}

// Exec runs one command. A CommandError comes back as a *fault.Error with
// the server's kind and message.
func (c *Client) Exec(ctx context.Context, text string) (string, error) {
	_, resp, err := c.roundTrip(ctx, packet.Command{Text: text})
	if err != nil {
		return "", err
	}
	switch r := resp.(type) {
	case packet.CommandResult:
		return r.Output, nil
	case packet.CommandError:
		return "", fault.New(fault.Kind(r.Kind), r.Message)
	default:
		return "", fmt.Errorf("%w: unexpected type %d", ErrResponseMismatch, resp.Type())
	}
}

// Disconnect tells the server to close, then closes locally.
func (c *Client) Disconnect(ctx context.Context, reason string) error {
	c.mu.Lock()
	_, err := c.Send(ctx, packet.Disconnect{Reason: reason})
	c.mu.Unlock()
	closeErr := c.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func (c *Client) deadline(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
