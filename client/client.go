// Package client assembles a ready-to-run client engine from a Config.
package client

import (
	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/config"
	"github.com/luciancaetano/relaynet/internal/engine"
	"github.com/luciancaetano/relaynet/internal/observability"
	"github.com/luciancaetano/relaynet/internal/transport/udp"
	"github.com/luciancaetano/relaynet/internal/transport/wsdriver"
)

// Client is the tick-driven client engine.
type Client = engine.Client

// SendHandle owns an in-progress frame toward the server.
type SendHandle = engine.SendHandle

// NewUDP builds a client over the datagram transport.
func NewUDP(cfg config.Config) *Client {
	log := observability.NewLogger("client")
	return engine.NewClient(engine.ClientOptions{
		Side:   cfg.Side(relaynet.SideClient),
		Logger: &log,
	}, udp.New(udp.Config{UseIPv4: cfg.UseIPv4}))
}

// NewWebsocket builds a client over the websocket transport.
func NewWebsocket(cfg config.Config) *Client {
	log := observability.NewLogger("client")
	return engine.NewClient(engine.ClientOptions{
		Side:   cfg.Side(relaynet.SideClient),
		Logger: &log,
	}, wsdriver.New(wsdriver.Config{}))
}

// NewWithDriver builds a client over a caller-supplied transport.
func NewWithDriver(cfg config.Config, drv relaynet.Driver) *Client {
	log := observability.NewLogger("client")
	return engine.NewClient(engine.ClientOptions{
		Side:   cfg.Side(relaynet.SideClient),
		Logger: &log,
	}, drv)
}
