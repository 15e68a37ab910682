package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/observability"
)

// ClientOptions configure the client engine.
type ClientOptions struct {
	// Side filters handler registrations; defaults to SideClient.
	Side relaynet.Side
	// Logger defaults to a nop logger when zero.
	Logger *zerolog.Logger
}

// Client is the tick-driven client engine. It owns a single driver and at
// most one connection, registered under SelfUID once the transport
// reports Connect.
type Client struct {
	core

	opts      ClientOptions
	drv       relaynet.Driver
	conn      relaynet.Conn
	started   bool
	connected bool
	ticking   atomic.Bool

	disconnects []relaynet.UID

	onConnect    []func()
	onDisconnect []func()
}

// NewClient builds a client engine over one driver.
func NewClient(opts ClientOptions, drv relaynet.Driver) *Client {
	if opts.Side == relaynet.SideNone {
		opts.Side = relaynet.SideClient
	}
	log := observability.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	c := &Client{opts: opts, drv: drv}
	c.core.init(opts.Side, log)
	c.core.resolve = c.resolveUID
	c.core.queueDisconnect = func(uid relaynet.UID) {
		c.disconnects = append(c.disconnects, uid)
	}
	return c
}

// OnConnect subscribes to the transport-level connect acknowledgement.
func (c *Client) OnConnect(fn func()) { c.onConnect = append(c.onConnect, fn) }

// OnDisconnect subscribes to connection loss.
func (c *Client) OnDisconnect(fn func()) { c.onDisconnect = append(c.onDisconnect, fn) }

// Connected reports whether the self record is registered.
func (c *Client) Connected() bool { return c.connected }

// Start binds the driver.
func (c *Client) Start() error {
	if c.started {
		c.log.Error().Int("code", relaynet.CodeEngineDoubleStart).Msg("start called twice")
		return relaynet.ErrAlreadyStarted
	}
	if c.drv == nil {
		c.log.Error().Int("code", relaynet.CodeEngineNoDrivers).Msg("no driver configured")
		return relaynet.ErrNoDrivers
	}
	if err := c.drv.Bind(); err != nil {
		c.log.Error().Int("code", relaynet.CodeBindFailed).Err(err).Msg("driver bind failed")
		return err
	}
	c.started = true
	return nil
}

// Connect dials the server. The self record appears once the driver
// yields its Connect event on a later tick.
func (c *Client) Connect(endpoint string) error {
	if !c.started {
		return relaynet.ErrNotStarted
	}
	cn, err := c.drv.Connect(endpoint)
	if err != nil {
		return err
	}
	c.conn = cn
	return nil
}

// Stop tears the connection and driver down.
func (c *Client) Stop() {
	if !c.started {
		return
	}
	if c.conn != nil {
		c.drv.Disconnect(c.conn)
		c.conn = nil
	}
	c.dir.Remove(relaynet.SelfUID)
	c.connected = false
	if err := c.drv.Close(); err != nil {
		c.log.Warn().Int("code", relaynet.CodeEngineStopFailed).Err(err).Msg("driver close failed")
	}
	c.started = false
}

// Serve drives Tick until ctx is done.
func (c *Client) Serve(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick advances the client once. At most one Tick runs at a time.
func (c *Client) Tick() {
	if !c.started {
		return
	}
	if !c.ticking.CompareAndSwap(false, true) {
		return
	}
	defer c.ticking.Store(false)

	c.sweepHandles()
	c.drv.ScheduleUpdate()

	if c.conn == nil {
		return
	}

	if c.connected && !c.conn.Alive() {
		c.dropConnection()
		return
	}

drain:
	for {
		ev := c.drv.PopEvent(c.conn)
		switch ev.Kind {
		case relaynet.EventEmpty:
			break drain
		case relaynet.EventConnect:
			c.dir.Register(relaynet.SelfUID, 0, c.conn)
			c.connected = true
			c.log.Info().Str("remote", c.conn.RemoteAddr()).Msg("connected")
			for _, fn := range c.onConnect {
				fn()
			}
		case relaynet.EventData:
			if c.receive(relaynet.SelfUID, ev.Reader) == OutcomeDisconnect {
				c.drv.Disconnect(c.conn)
				c.dropConnection()
				break drain
			}
		case relaynet.EventDisconnect:
			c.dropConnection()
			break drain
		}
	}

	for _, uid := range c.disconnects {
		if uid == relaynet.SelfUID && c.conn != nil {
			c.drv.Disconnect(c.conn)
			c.dropConnection()
		}
	}
	c.disconnects = c.disconnects[:0]
}

// dropConnection emits OnDisconnect before the self record is removed.
func (c *Client) dropConnection() {
	if !c.connected {
		c.conn = nil
		return
	}
	c.connected = false
	for _, fn := range c.onDisconnect {
		fn()
	}
	c.dir.Remove(relaynet.SelfUID)
	c.conn = nil
	c.log.Info().Msg("disconnected")
}

func (c *Client) resolveUID(uid relaynet.UID) (relaynet.Conn, relaynet.Driver, bool) {
	if uid != relaynet.SelfUID || c.conn == nil || !c.connected {
		return nil, nil, false
	}
	return c.conn, c.drv, true
}

// Send opens a frame toward the server.
func (c *Client) Send(key uint16, ch relaynet.Channel, md relaynet.Metadata) (*SendHandle, error) {
	return c.BeginSend(relaynet.SelfUID, key, ch, md)
}
