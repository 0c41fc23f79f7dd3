package collab

import (
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a Manager connects and reconnects.
type Config struct {
	URL   string
	Token string // bearer token, sent as header and "token" query parameter
	// ClientID overrides the generated identity. Leave empty in production.
	ClientID string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64

	// Reconnect delay for attempt n is min(ReconnectBase*ReconnectMultiplier^n, ReconnectMax).
	ReconnectBase        time.Duration
	ReconnectMultiplier  float64
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	Logger *zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadLimit:            4 << 20,
		ReconnectBase:        time.Second,
		ReconnectMultiplier:  1.5,
		ReconnectMax:         10 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = d.ReconnectMultiplier
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = d.ReconnectMax
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
