package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/hackgame/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	cases := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := NextBackoffDelay(cfg, attempt, nil); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 8; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got <= 0 || got > 7500*time.Millisecond {
			t.Fatalf("attempt %d: jitter out of range: %v", attempt, got)
		}
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	got := Config{ReadTimeout: time.Second, SecurityMode: " Production "}.WithDefaults()
	if got.ReadTimeout != time.Second {
		t.Fatalf("explicit read timeout overwritten: %v", got.ReadTimeout)
	}
	if got.SessionDeadAfter != DefaultConfig().SessionDeadAfter {
		t.Fatalf("session dead after not defaulted: %v", got.SessionDeadAfter)
	}
	if got.SecurityMode != SecurityModeProduction {
		t.Fatalf("security mode not normalized: %q", got.SecurityMode)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "paranoid"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestValidateClientTransportProductionRequiresVerifiedTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	cfg.TLS.InsecureSkipVerify = false
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKey(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransport(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.ValidateServerTransport(); err != nil {
		t.Fatalf("development plaintext should be valid: %v", err)
	}

	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "/tmp/server.pem"
	cfg.TLS.KeyFile = "/tmp/server.key"
	cfg.TLS.Mutual = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateServerTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}
