// Package udp is the datagram transport. Each datagram opens with a
// one-byte discriminator: values 0-3 name the engine channel carrying a
// frame, values 0xF0 and up are driver control packets (session hello,
// acks, keepalive, bye).
//
// Channel semantics:
//
//	Unreliable          — fire and forget.
//	Reliable            — sequenced, acked, retransmitted, delivered in order.
//	UnreliableSequenced — stale datagrams are dropped, no retransmit.
//	Fragmented          — split over MTU-sized fragments, reassembled, no
//	                      retransmit; incomplete assemblies expire.
package udp

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/luciancaetano/relaynet"
)

const (
	opHello    = 0xF0
	opHelloAck = 0xF1
	opAck      = 0xF2
	opBye      = 0xF3
	opPing     = 0xF4

	maxDatagram  = 1400
	fragChunk    = 1200
	idleTimeout  = 30 * time.Second
	pingInterval = 10 * time.Second
	rto          = 250 * time.Millisecond
	maxResends   = 10
	fragExpiry   = 5 * time.Second
)

// Config configures the driver for either role.
type Config struct {
	// Addr is the server listen address ("host:port"). Unused on the
	// client.
	Addr string
	// UseIPv4 selects the socket family.
	UseIPv4 bool
	// MaxFrame bounds a single outgoing frame. On the Fragmented channel
	// zero uses the writer default; the other channels send one datagram
	// per frame and cap it at maxDatagram-8 bytes when MaxFrame is zero or
	// larger than that.
	MaxFrame int
}

func (c Config) network() string {
	if c.UseIPv4 {
		return "udp4"
	}
	return "udp6"
}

// Driver implements the transport contract over a single UDP socket.
// All socket reads happen inside ScheduleUpdate on the tick goroutine.
type Driver struct {
	cfg    Config
	socket *net.UDPConn
	server bool

	conns         map[string]*Conn // keyed by remote addr
	pendingAccept []*Conn
	writers       map[*relaynet.Writer]*sendCtx

	readBuf []byte
}

type sendCtx struct {
	conn *Conn
	ch   relaynet.Channel
}

func New(cfg Config) *Driver {
	return &Driver{
		cfg:     cfg,
		conns:   make(map[string]*Conn),
		writers: make(map[*relaynet.Writer]*sendCtx),
		readBuf: make([]byte, maxDatagram+1),
	}
}

func (d *Driver) Name() string { return "udp" }

// Bind opens the socket. Servers listen on Addr; clients bind an
// ephemeral local port.
func (d *Driver) Bind() error {
	var laddr *net.UDPAddr
	if d.cfg.Addr != "" {
		addr, err := net.ResolveUDPAddr(d.cfg.network(), d.cfg.Addr)
		if err != nil {
			return fmt.Errorf("udp resolve %s: %w", d.cfg.Addr, err)
		}
		laddr = addr
		d.server = true
	}
	sock, err := net.ListenUDP(d.cfg.network(), laddr)
	if err != nil {
		return fmt.Errorf("udp bind: %w", err)
	}
	d.socket = sock
	return nil
}

// LocalAddr returns the bound socket address, or nil before Bind.
func (d *Driver) LocalAddr() net.Addr {
	if d.socket == nil {
		return nil
	}
	return d.socket.LocalAddr()
}

// Connect starts a session toward endpoint by sending a hello datagram.
// The Connect event arrives once the server's hello-ack comes back.
func (d *Driver) Connect(endpoint string) (relaynet.Conn, error) {
	raddr, err := net.ResolveUDPAddr(d.cfg.network(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("udp resolve %s: %w", endpoint, err)
	}
	c := newUDPConn(d, raddr)
	d.conns[raddr.String()] = c
	d.rawSend(c, []byte{opHello})
	return c, nil
}

func (d *Driver) Accept() (relaynet.Conn, bool) {
	if len(d.pendingAccept) == 0 {
		return nil, false
	}
	c := d.pendingAccept[0]
	d.pendingAccept = d.pendingAccept[1:]
	return c, true
}

func (d *Driver) BeginSend(ch relaynet.Channel, c relaynet.Conn) (*relaynet.Writer, error) {
	uc, ok := c.(*Conn)
	if !ok || !uc.Alive() {
		return nil, relaynet.ErrConnectionNotFound
	}
	max := d.cfg.MaxFrame
	if ch != relaynet.ChannelFragmented && (max <= 0 || max > maxDatagram-8) {
		// single-datagram channels cannot exceed the MTU
		max = maxDatagram - 8
	}
	w := relaynet.NewWriter(max)
	d.writers[w] = &sendCtx{conn: uc, ch: ch}
	return w, nil
}

func (d *Driver) AbortSend(c relaynet.Conn, w *relaynet.Writer) {
	delete(d.writers, w)
}

func (d *Driver) EndSend(c relaynet.Conn, w *relaynet.Writer) error {
	ctx, ok := d.writers[w]
	if !ok {
		return relaynet.ErrHandleCommitted
	}
	delete(d.writers, w)
	if !ctx.conn.Alive() {
		return relaynet.ErrConnectionNotFound
	}
	return ctx.conn.sendFrame(ctx.ch, w.Bytes())
}

func (d *Driver) PopEvent(c relaynet.Conn) relaynet.Event {
	uc, ok := c.(*Conn)
	if !ok {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	return uc.pop()
}

func (d *Driver) Disconnect(c relaynet.Conn) {
	uc, ok := c.(*Conn)
	if !ok || !uc.alive {
		return
	}
	d.rawSend(uc, []byte{opBye})
	uc.alive = false
	delete(d.conns, uc.raddr.String())
}

// ScheduleUpdate drains the socket, dispatches datagrams to their
// sessions, retransmits unacked reliable packets and expires idle peers.
func (d *Driver) ScheduleUpdate() {
	if d.socket == nil {
		return
	}
	now := time.Now()

	d.socket.SetReadDeadline(now.Add(time.Millisecond))
	for {
		n, raddr, err := d.socket.ReadFromUDP(d.readBuf)
		if err != nil {
			break // deadline or closed socket
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, d.readBuf[:n])
		d.handlePacket(raddr, pkt, now)
	}

	for key, c := range d.conns {
		if !c.alive {
			delete(d.conns, key)
			continue
		}
		c.update(now)
		if now.Sub(c.lastHeard) > idleTimeout {
			c.alive = false
			c.push(relaynet.Event{Kind: relaynet.EventDisconnect})
			delete(d.conns, key)
		}
	}
}

func (d *Driver) handlePacket(raddr *net.UDPAddr, pkt []byte, now time.Time) {
	key := raddr.String()
	c, known := d.conns[key]

	if !known {
		// only a hello opens a session on the server
		if !d.server || pkt[0] != opHello {
			return
		}
		c = newUDPConn(d, raddr)
		c.lastHeard = now
		d.conns[key] = c
		d.pendingAccept = append(d.pendingAccept, c)
		d.rawSend(c, []byte{opHelloAck})
		return
	}

	c.lastHeard = now
	switch pkt[0] {
	case opHello:
		// duplicate hello from a known peer; re-ack
		d.rawSend(c, []byte{opHelloAck})
	case opHelloAck:
		if !c.connected {
			c.connected = true
			c.push(relaynet.Event{Kind: relaynet.EventConnect})
		}
	case opAck:
		if len(pkt) == 3 {
			c.handleAck(binary.LittleEndian.Uint16(pkt[1:3]))
		}
	case opBye:
		c.alive = false
		c.push(relaynet.Event{Kind: relaynet.EventDisconnect})
		delete(d.conns, key)
	case opPing:
		// keepalive, lastHeard already updated
	default:
		c.handleData(pkt)
	}
}

// rawSend writes one datagram toward c's remote.
func (d *Driver) rawSend(c *Conn, pkt []byte) error {
	if d.socket == nil {
		return relaynet.ErrNotStarted
	}
	_, err := d.socket.WriteToUDP(pkt, c.raddr)
	return err
}

func (d *Driver) Close() error {
	for key, c := range d.conns {
		if c.alive {
			d.rawSend(c, []byte{opBye})
			c.alive = false
		}
		delete(d.conns, key)
	}
	if d.socket != nil {
		return d.socket.Close()
	}
	return nil
}
