package session

import "time"

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes listener or dialer certificate material.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	Mutual             bool   `toml:"mutual" yaml:"mutual" env:"MUTUAL"`
	CertFile           string `toml:"cert_file" yaml:"cert_file" env:"CERT_FILE"`
	KeyFile            string `toml:"key_file" yaml:"key_file" env:"KEY_FILE"`
	CAFile             string `toml:"ca_file" yaml:"ca_file" env:"CA_FILE"`
	ServerName         string `toml:"server_name" yaml:"server_name" env:"SERVER_NAME"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay" yaml:"initial_delay" env:"INITIAL_DELAY"`
	Multiplier   float64       `toml:"multiplier" yaml:"multiplier" env:"MULTIPLIER"`
	MaxDelay     time.Duration `toml:"max_delay" yaml:"max_delay" env:"MAX_DELAY"`
	Jitter       bool          `toml:"jitter" yaml:"jitter" env:"JITTER"`
}

// Config defines transport and session reliability settings.
//
// SessionDeadAfter is the read deadline applied before every inbound frame;
// a connection that stays silent longer than that is closed.
type Config struct {
	SecurityMode     SecurityMode  `toml:"security_mode" yaml:"security_mode" env:"SECURITY_MODE"`
	ConnectTimeout   time.Duration `toml:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout" yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `toml:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `toml:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	SessionDeadAfter time.Duration `toml:"session_dead_after" yaml:"session_dead_after" env:"SESSION_DEAD_AFTER"`
	Backoff          BackoffConfig `toml:"backoff" yaml:"backoff" envPrefix:"BACKOFF_"`
	TLS              TLSConfig     `toml:"tls" yaml:"tls" envPrefix:"TLS_"`
}

func DefaultConfig() Config {
	return Config{
		SecurityMode:     SecurityModeDevelopment,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		SessionDeadAfter: 5 * time.Minute,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued durations and backoff from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SessionDeadAfter <= 0 {
		c.SessionDeadAfter = def.SessionDeadAfter
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	return c
}
