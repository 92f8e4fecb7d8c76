package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func validMode(mode SecurityMode) error {
	switch NormalizeSecurityMode(mode) {
	case SecurityModeDevelopment, SecurityModeProduction:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, mode)
	}
}

// ValidateClientTransport checks the dialer side of the policy. Production
// requires TLS with verification; players are not required to present
// certificates unless Mutual is set.
func (c Config) ValidateClientTransport() error {
	if err := validMode(c.SecurityMode); err != nil {
		return err
	}
	if NormalizeSecurityMode(c.SecurityMode) == SecurityModeProduction {
		if !c.TLS.Enabled {
			return ErrTLSRequired
		}
		if c.TLS.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Mutual {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ValidateServerTransport checks the listener side of the policy.
func (c Config) ValidateServerTransport() error {
	if err := validMode(c.SecurityMode); err != nil {
		return err
	}
	if NormalizeSecurityMode(c.SecurityMode) == SecurityModeProduction && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Mutual && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if c.TLS.Enabled {
		if strings.TrimSpace(c.TLS.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(c.TLS.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

// ServerTLSConfig builds the listener TLS config. Callers validate first.
func (c Config) ServerTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if c.TLS.Mutual {
		pool, err := loadPool(c.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientTLSConfig builds the dialer TLS config for address.
func (c Config) ClientTLSConfig(address string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(c.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if c.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("session: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
