// Package config loads and validates engine configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/luciancaetano/relaynet"
)

// Default ports per transport.
const (
	DefaultUDPPort       = 7777
	DefaultWebsocketPort = 7778
)

// RateLimit mirrors the built-in receive pipeline step's settings.
type RateLimit struct {
	Enabled           bool    `toml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// Config holds the recognized engine options.
type Config struct {
	// Port overrides the transport bind/connect port. Zero uses the
	// transport default.
	Port uint16 `toml:"port"`
	// UseIPv4 selects IPv4 when true, IPv6 otherwise.
	UseIPv4 bool `toml:"use_ipv4"`
	// MaxPlayers caps concurrent server connections. Must be > 0.
	MaxPlayers int `toml:"max_players"`
	// StopOnBindFailure aborts server start when any driver fails to
	// bind; otherwise the server starts with the drivers that bound.
	StopOnBindFailure bool `toml:"stop_on_bind_failure"`
	// MessageSide filters which annotated handlers register, one of
	// "none", "client", "server", "common", "any".
	MessageSide string `toml:"message_side"`

	RateLimit RateLimit `toml:"rate_limit"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		UseIPv4:    true,
		MaxPlayers: 32,
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the option constraints.
func Validate(cfg Config) error {
	if cfg.MaxPlayers <= 0 {
		return relaynet.ErrZeroMaxPlayers
	}
	if cfg.MessageSide != "" {
		if _, err := ParseSide(cfg.MessageSide); err != nil {
			return err
		}
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limit.messages_per_second must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}
	return nil
}

// ParseSide maps the message_side option to its bitmask.
func ParseSide(s string) (relaynet.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return relaynet.SideNone, nil
	case "client":
		return relaynet.SideClient, nil
	case "server":
		return relaynet.SideServer, nil
	case "common":
		return relaynet.SideCommon, nil
	case "any":
		return relaynet.SideAny, nil
	}
	return relaynet.SideNone, fmt.Errorf("unknown message_side %q", s)
}

// Side resolves MessageSide with fallback when unset.
func (c Config) Side(fallback relaynet.Side) relaynet.Side {
	if c.MessageSide == "" {
		return fallback
	}
	side, err := ParseSide(c.MessageSide)
	if err != nil {
		return fallback
	}
	return side
}

// UDPAddr builds the datagram bind address.
func (c Config) UDPAddr() string {
	port := c.Port
	if port == 0 {
		port = DefaultUDPPort
	}
	return fmt.Sprintf(":%d", port)
}

// WebsocketAddr builds the websocket bind address.
func (c Config) WebsocketAddr() string {
	port := c.Port
	if port == 0 {
		port = DefaultWebsocketPort
	}
	return fmt.Sprintf(":%d", port)
}
