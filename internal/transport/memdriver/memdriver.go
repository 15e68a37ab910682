// Package memdriver is an in-process loopback transport used by tests.
// Delivery is synchronous and deterministic: EndSend places the frame on
// the peer's event queue immediately, ScheduleUpdate is a no-op.
package memdriver

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/relaynet"
)

var ErrNotLinked = errors.New("memdriver: driver pair not linked")

// Conn is one end of a loopback pair.
type Conn struct {
	handle uuid.UUID
	addr   string
	drv    *Driver
	peer   *Conn
	events []relaynet.Event
	alive  bool
}

func (c *Conn) Handle() uuid.UUID { return c.handle }

func (c *Conn) RemoteAddr() string { return c.addr }

func (c *Conn) Alive() bool {
	c.drv.hub.mu.Lock()
	defer c.drv.hub.mu.Unlock()
	return c.alive
}

// InjectFrame pushes a raw frame onto c's event queue as if the peer had
// sent it. Test hook.
func (c *Conn) InjectFrame(frame []byte) {
	c.drv.hub.mu.Lock()
	defer c.drv.hub.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	c.events = append(c.events, relaynet.Event{Kind: relaynet.EventData, Reader: relaynet.NewReader(buf)})
}

// Drop kills the transport link without a disconnect event, simulating a
// vanished peer. Test hook.
func (c *Conn) Drop() {
	c.drv.hub.mu.Lock()
	defer c.drv.hub.mu.Unlock()
	c.alive = false
}

type hub struct {
	mu sync.Mutex
}

// Driver is one side of the loopback pair.
type Driver struct {
	hub      *hub
	name     string
	peer     *Driver
	maxWrite int

	pendingAccept []*Conn
	conns         []*Conn
	writers       map[*relaynet.Writer]*Conn
}

// NewPair links a server driver and a client driver. maxWrite bounds each
// outgoing frame; zero uses the default writer capacity.
func NewPair(maxWrite int) (server, client *Driver) {
	h := &hub{}
	server = &Driver{hub: h, name: "mem-server", maxWrite: maxWrite, writers: make(map[*relaynet.Writer]*Conn)}
	client = &Driver{hub: h, name: "mem-client", maxWrite: maxWrite, writers: make(map[*relaynet.Writer]*Conn)}
	server.peer = client
	client.peer = server
	return server, client
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Bind() error { return nil }

// Connect creates a conn pair and queues the remote end for Accept on the
// peer driver.
func (d *Driver) Connect(endpoint string) (relaynet.Conn, error) {
	if d.peer == nil {
		return nil, ErrNotLinked
	}
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()

	local := &Conn{handle: uuid.New(), addr: endpoint, drv: d, alive: true}
	remote := &Conn{handle: uuid.New(), addr: "loopback", drv: d.peer, alive: true}
	local.peer = remote
	remote.peer = local

	local.events = append(local.events, relaynet.Event{Kind: relaynet.EventConnect})
	d.conns = append(d.conns, local)
	d.peer.pendingAccept = append(d.peer.pendingAccept, remote)
	return local, nil
}

func (d *Driver) Accept() (relaynet.Conn, bool) {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	if len(d.pendingAccept) == 0 {
		return nil, false
	}
	c := d.pendingAccept[0]
	d.pendingAccept = d.pendingAccept[1:]
	d.conns = append(d.conns, c)
	return c, true
}

func (d *Driver) BeginSend(ch relaynet.Channel, c relaynet.Conn) (*relaynet.Writer, error) {
	mc, ok := c.(*Conn)
	if !ok || !mc.Alive() {
		return nil, relaynet.ErrConnectionNotFound
	}
	_ = ch // loopback delivers every channel the same way
	w := relaynet.NewWriter(d.maxWrite)
	d.hub.mu.Lock()
	d.writers[w] = mc
	d.hub.mu.Unlock()
	return w, nil
}

func (d *Driver) AbortSend(c relaynet.Conn, w *relaynet.Writer) {
	d.hub.mu.Lock()
	delete(d.writers, w)
	d.hub.mu.Unlock()
}

func (d *Driver) EndSend(c relaynet.Conn, w *relaynet.Writer) error {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	mc, ok := d.writers[w]
	if !ok {
		return relaynet.ErrHandleCommitted
	}
	delete(d.writers, w)
	if mc.peer == nil || !mc.peer.alive {
		return relaynet.ErrConnectionNotFound
	}
	buf := make([]byte, w.Len())
	copy(buf, w.Bytes())
	mc.peer.events = append(mc.peer.events, relaynet.Event{Kind: relaynet.EventData, Reader: relaynet.NewReader(buf)})
	return nil
}

func (d *Driver) PopEvent(c relaynet.Conn) relaynet.Event {
	mc, ok := c.(*Conn)
	if !ok {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	if len(mc.events) == 0 {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	ev := mc.events[0]
	mc.events = mc.events[1:]
	return ev
}

func (d *Driver) Disconnect(c relaynet.Conn) {
	mc, ok := c.(*Conn)
	if !ok {
		return
	}
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	if !mc.alive {
		return
	}
	mc.alive = false
	if mc.peer != nil && mc.peer.alive {
		mc.peer.alive = false
		mc.peer.events = append(mc.peer.events, relaynet.Event{Kind: relaynet.EventDisconnect})
	}
}

func (d *Driver) ScheduleUpdate() {}

func (d *Driver) Close() error {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	for _, c := range d.conns {
		c.alive = false
	}
	d.conns = nil
	d.pendingAccept = nil
	return nil
}
