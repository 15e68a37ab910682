// Package engine ties the connection directory, pipelines, dispatcher and
// transport drivers together under tick-driven server and client loops.
package engine

import (
	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/conn"
	"github.com/luciancaetano/relaynet/internal/dispatch"
)

// core holds the state shared by the server and client engines: the
// connection directory, the dispatcher, the two local pipelines and the
// in-flight send handles.
type core struct {
	log  zerolog.Logger
	dir  *conn.Directory
	disp *dispatch.Dispatcher

	recvPipe *relaynet.Pipeline
	sendPipe *relaynet.Pipeline

	pending      []*SendHandle
	pendingMulti []*MulticastHandle

	// resolve maps a UID to its transport handle and owning driver.
	resolve func(uid relaynet.UID) (relaynet.Conn, relaynet.Driver, bool)
	// queueDisconnect defers a pipeline-requested disconnect to the
	// owning engine's tick.
	queueDisconnect func(uid relaynet.UID)
}

func (c *core) init(side relaynet.Side, log zerolog.Logger) {
	c.log = log
	c.dir = conn.NewDirectory()
	c.disp = dispatch.New(side, c.dir, log)
	c.recvPipe = relaynet.NewPipeline()
	c.sendPipe = relaynet.NewPipeline()
}

// Directory exposes the UID -> record map for permission queries.
func (c *core) Directory() *conn.Directory { return c.dir }

// ReceivePipeline returns the inbound pipeline; steps appended to it run
// for every default-data message before dispatch.
func (c *core) ReceivePipeline() *relaynet.Pipeline { return c.recvPipe }

// SendPipeline returns the outbound pipeline; steps run after the
// preamble is written and before the caller serializes payload.
func (c *core) SendPipeline() *relaynet.Pipeline { return c.sendPipe }

// RegisterDefault installs a default-data handler for key.
func (c *core) RegisterDefault(key uint16, h relaynet.DefaultHandler, opts relaynet.HandlerOptions) uint64 {
	return c.disp.RegisterDefault(key, h, opts)
}

func (c *core) UnregisterDefault(key uint16, id uint64) { c.disp.UnregisterDefault(key, id) }

// RegisterEvent installs an event handler for key.
func (c *core) RegisterEvent(key uint16, h relaynet.EventHandler, opts relaynet.HandlerOptions) uint64 {
	return c.disp.RegisterEvent(key, h, opts)
}

func (c *core) UnregisterEvent(key uint16, id uint64) { c.disp.UnregisterEvent(key, id) }

// RegisterControl installs a control handler.
func (c *core) RegisterControl(spec relaynet.ControlSpec, h relaynet.ControlHandler) (uint64, error) {
	return c.disp.RegisterControl(spec, h)
}

func (c *core) UnregisterControl(key uint8, id uint64) { c.disp.UnregisterControl(key, id) }

// RegisterReflective installs a typed-parameter handler for key; the
// engine deserializes each declared parameter through the codec registry.
func (c *core) RegisterReflective(key uint16, fn any, opts relaynet.HandlerOptions) (uint64, error) {
	return c.disp.RegisterReflective(key, fn, opts)
}

func (c *core) RegisterReflectiveEvent(key uint16, fn any, opts relaynet.HandlerOptions) (uint64, error) {
	return c.disp.RegisterReflectiveEvent(key, fn, opts)
}

func (c *core) RegisterReflectiveControl(spec relaynet.ControlSpec, fn any) (uint64, error) {
	return c.disp.RegisterReflectiveControl(spec, fn)
}
