package session

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/hackgame/internal/protocol/frame"
	"github.com/danmuck/hackgame/internal/testutil/testlog"
	"github.com/danmuck/hackgame/internal/testutil/tlstest"
	"github.com/gorilla/websocket"
)

func TestStreamConnRoundTrip(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	left := NewStreamConn(a, frame.DefaultLimits())
	right := NewStreamConn(b, frame.DefaultLimits())
	defer left.Close()
	defer right.Close()

	sent := frame.Frame{Header: frame.Header{MessageID: 7, MessageType: 2}, Payload: []byte{1, 2, 3}}
	errc := make(chan error, 1)
	go func() { errc <- left.WriteFrame(sent) }()
	got, err := right.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("write: %v", err)
	}
	if got.Header.MessageID != 7 || string(got.Payload) != string(sent.Payload) {
		t.Fatalf("unexpected frame %+v", got)
	}
}

func TestWebSocketConnRejectsTextMessages(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{}
	ready := make(chan error, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ready <- err
			return
		}
		fc := NewWebSocketConn(ws, frame.DefaultLimits())
		defer fc.Close()
		f, err := fc.ReadFrame()
		if err == nil && f.Header.MessageID != 1 {
			err = errors.New("wrong frame")
		}
		ready <- err
		_, err = fc.ReadFrame()
		ready <- err
	}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+strings.TrimPrefix(ts.URL, "http://"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewWebSocketConn(ws, frame.DefaultLimits())
	defer client.Close()

	if err := client.WriteFrame(frame.Frame{Header: frame.Header{MessageID: 1, MessageType: 2}}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := <-ready; err != nil {
		t.Fatalf("binary frame: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := <-ready; !errors.Is(err, ErrNonBinaryMessage) {
		t.Fatalf("expected ErrNonBinaryMessage, got %v", err)
	}
}

func TestMutualTLSRequiresClientCertificate(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t)
	certFile, keyFile := ca.ServerPair(t, "127.0.0.1")
	clientCert, clientKey := ca.ClientPair(t, "player")

	server := DefaultConfig()
	server.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: certFile, KeyFile: keyFile, CAFile: ca.CAFile()}
	if err := server.ValidateServerTransport(); err != nil {
		t.Fatalf("validate server: %v", err)
	}
	serverTLS, err := server.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.(*tls.Conn).Handshake()
			_ = conn.Close()
		}
	}()

	handshake := func(cfg Config) error {
		clientTLS, err := cfg.ClientTLSConfig(ln.Addr().String())
		if err != nil {
			return err
		}
		conn, err := tls.Dial("tcp", ln.Addr().String(), clientTLS)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.Handshake(); err != nil {
			return err
		}
		// TLS 1.3 reports a rejected client certificate on first read.
		_, err = conn.Read(make([]byte, 1))
		if err != nil && strings.Contains(err.Error(), "certificate") {
			return err
		}
		return nil
	}

	anonymous := DefaultConfig()
	anonymous.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	if err := handshake(anonymous); err == nil {
		t.Fatalf("expected handshake without client certificate to fail")
	}

	mutual := DefaultConfig()
	mutual.TLS = TLSConfig{Enabled: true, Mutual: true, CAFile: ca.CAFile(), CertFile: clientCert, KeyFile: clientKey}
	if err := handshake(mutual); err != nil {
		t.Fatalf("mutual handshake: %v", err)
	}
}
