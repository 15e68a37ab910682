// Package server assembles a ready-to-run server engine from a Config:
// transports, logging, metrics and the built-in rate-limit step.
package server

import (
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/config"
	"github.com/luciancaetano/relaynet/internal/engine"
	"github.com/luciancaetano/relaynet/internal/observability"
	"github.com/luciancaetano/relaynet/internal/transport/udp"
	"github.com/luciancaetano/relaynet/internal/transport/wsdriver"
)

// Server is the tick-driven server engine.
type Server = engine.Server

// SendHandle owns an in-progress unicast frame.
type SendHandle = engine.SendHandle

// MulticastHandle owns an in-progress multicast or broadcast frame.
type MulticastHandle = engine.MulticastHandle

// New builds a server over the default transports: a UDP datagram driver
// and a websocket driver, both bound per cfg. When rate limiting is
// enabled the receive pipeline gets the token-bucket step and per-UID
// limiter state is dropped on disconnect.
func New(cfg config.Config) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	drivers := []relaynet.Driver{
		udp.New(udp.Config{Addr: cfg.UDPAddr(), UseIPv4: cfg.UseIPv4}),
		wsdriver.New(wsdriver.Config{Addr: cfg.WebsocketAddr()}),
	}
	return NewWithDrivers(cfg, drivers...)
}

// NewWithDrivers builds a server over caller-supplied transports.
func NewWithDrivers(cfg config.Config, drivers ...relaynet.Driver) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	log := observability.NewLogger("server")
	observability.RegisterMetrics()

	srv := engine.NewServer(engine.ServerOptions{
		MaxPlayers:        cfg.MaxPlayers,
		StopOnBindFailure: cfg.StopOnBindFailure,
		Side:              cfg.Side(relaynet.SideServer),
		Logger:            &log,
	}, drivers...)

	if cfg.RateLimit.Enabled {
		step, release := relaynet.RateLimitStep(&relaynet.RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
		})
		srv.ReceivePipeline().Append(step)
		srv.OnClientDisconnected(release)
	}
	return srv, nil
}
