package udp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/luciancaetano/relaynet"
)

// Conn is one UDP session. Driver and Conn state are tick-goroutine only;
// Alive is a plain read of a bool mutated on the same goroutine.
type Conn struct {
	drv       *Driver
	handle    uuid.UUID
	raddr     *net.UDPAddr
	alive     bool
	connected bool
	lastHeard time.Time
	lastPing  time.Time

	events []relaynet.Event

	// per-channel outbound sequence counters
	sendSeq [relaynet.ChannelCount]uint16

	// sequenced receive state
	seqInit bool
	lastSeq uint16

	// reliable send state: unacked packets pending retransmit
	unacked map[uint16]*pendingPacket
	// reliable receive state: next expected sequence and held-back
	// out-of-order frames
	reliableExpect uint16
	reliableHeld   map[uint16][]byte

	// fragment reassembly keyed by message id
	nextFragID uint16
	assemblies map[uint16]*assembly
}

type pendingPacket struct {
	data     []byte
	sentAt   time.Time
	attempts int
}

type assembly struct {
	parts    [][]byte
	received int
	started  time.Time
}

func newUDPConn(d *Driver, raddr *net.UDPAddr) *Conn {
	return &Conn{
		drv:          d,
		handle:       uuid.New(),
		raddr:        raddr,
		alive:        true,
		lastHeard:    time.Now(),
		unacked:      make(map[uint16]*pendingPacket),
		reliableHeld: make(map[uint16][]byte),
		assemblies:   make(map[uint16]*assembly),
	}
}

func (c *Conn) Handle() uuid.UUID { return c.handle }

func (c *Conn) RemoteAddr() string { return c.raddr.String() }

func (c *Conn) Alive() bool { return c.alive }

func (c *Conn) push(ev relaynet.Event) { c.events = append(c.events, ev) }

func (c *Conn) pop() relaynet.Event {
	if len(c.events) == 0 {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev
}

func (c *Conn) pushFrame(frame []byte) {
	c.push(relaynet.Event{Kind: relaynet.EventData, Reader: relaynet.NewReader(frame)})
}

// sendFrame transmits one engine frame on ch, applying the channel's
// header and delivery machinery.
func (c *Conn) sendFrame(ch relaynet.Channel, frame []byte) error {
	switch ch {
	case relaynet.ChannelUnreliable:
		pkt := make([]byte, 1+len(frame))
		pkt[0] = byte(ch)
		copy(pkt[1:], frame)
		return c.drv.rawSend(c, pkt)

	case relaynet.ChannelUnreliableSequenced:
		seq := c.sendSeq[ch]
		c.sendSeq[ch]++
		pkt := make([]byte, 3+len(frame))
		pkt[0] = byte(ch)
		binary.LittleEndian.PutUint16(pkt[1:3], seq)
		copy(pkt[3:], frame)
		return c.drv.rawSend(c, pkt)

	case relaynet.ChannelReliable:
		seq := c.sendSeq[ch]
		c.sendSeq[ch]++
		pkt := make([]byte, 3+len(frame))
		pkt[0] = byte(ch)
		binary.LittleEndian.PutUint16(pkt[1:3], seq)
		copy(pkt[3:], frame)
		c.unacked[seq] = &pendingPacket{data: pkt, sentAt: time.Now(), attempts: 1}
		return c.drv.rawSend(c, pkt)

	case relaynet.ChannelFragmented:
		return c.sendFragmented(frame)
	}
	return relaynet.ErrConnectionNotFound
}

func (c *Conn) sendFragmented(frame []byte) error {
	count := (len(frame) + fragChunk - 1) / fragChunk
	if count == 0 {
		count = 1
	}
	if count > 255 {
		return relaynet.ErrWriterTooSmall
	}
	id := c.nextFragID
	c.nextFragID++
	for i := 0; i < count; i++ {
		lo := i * fragChunk
		hi := min(lo+fragChunk, len(frame))
		pkt := make([]byte, 5+hi-lo)
		pkt[0] = byte(relaynet.ChannelFragmented)
		binary.LittleEndian.PutUint16(pkt[1:3], id)
		pkt[3] = uint8(i)
		pkt[4] = uint8(count)
		copy(pkt[5:], frame[lo:hi])
		if err := c.drv.rawSend(c, pkt); err != nil {
			return err
		}
	}
	return nil
}

// handleData demuxes a channel datagram into frames.
func (c *Conn) handleData(pkt []byte) {
	switch relaynet.Channel(pkt[0]) {
	case relaynet.ChannelUnreliable:
		c.pushFrame(pkt[1:])

	case relaynet.ChannelUnreliableSequenced:
		if len(pkt) < 3 {
			return
		}
		seq := binary.LittleEndian.Uint16(pkt[1:3])
		if c.seqInit && int16(seq-c.lastSeq) <= 0 {
			return // stale
		}
		c.seqInit = true
		c.lastSeq = seq
		c.pushFrame(pkt[3:])

	case relaynet.ChannelReliable:
		if len(pkt) < 3 {
			return
		}
		seq := binary.LittleEndian.Uint16(pkt[1:3])
		ack := []byte{opAck, 0, 0}
		binary.LittleEndian.PutUint16(ack[1:3], seq)
		c.drv.rawSend(c, ack)

		switch {
		case seq == c.reliableExpect:
			c.pushFrame(pkt[3:])
			c.reliableExpect++
			for {
				held, ok := c.reliableHeld[c.reliableExpect]
				if !ok {
					break
				}
				delete(c.reliableHeld, c.reliableExpect)
				c.pushFrame(held)
				c.reliableExpect++
			}
		case int16(seq-c.reliableExpect) > 0:
			if _, dup := c.reliableHeld[seq]; !dup {
				held := make([]byte, len(pkt)-3)
				copy(held, pkt[3:])
				c.reliableHeld[seq] = held
			}
		default:
			// already delivered; the ack above covers the resend
		}

	case relaynet.ChannelFragmented:
		c.handleFragment(pkt)
	}
}

func (c *Conn) handleFragment(pkt []byte) {
	if len(pkt) < 5 {
		return
	}
	id := binary.LittleEndian.Uint16(pkt[1:3])
	idx, count := int(pkt[3]), int(pkt[4])
	if count == 0 || idx >= count {
		return
	}
	asm, ok := c.assemblies[id]
	if !ok {
		asm = &assembly{parts: make([][]byte, count), started: time.Now()}
		c.assemblies[id] = asm
	}
	if len(asm.parts) != count || asm.parts[idx] != nil {
		return
	}
	part := make([]byte, len(pkt)-5)
	copy(part, pkt[5:])
	asm.parts[idx] = part
	asm.received++
	if asm.received < count {
		return
	}
	delete(c.assemblies, id)
	var frame []byte
	for _, p := range asm.parts {
		frame = append(frame, p...)
	}
	c.pushFrame(frame)
}

// handleAck clears a reliable packet from the retransmit set.
func (c *Conn) handleAck(seq uint16) {
	delete(c.unacked, seq)
}

// update retransmits overdue reliable packets, expires stale fragment
// assemblies and keeps the session alive.
func (c *Conn) update(now time.Time) {
	for seq, p := range c.unacked {
		if now.Sub(p.sentAt) < rto {
			continue
		}
		if p.attempts >= maxResends {
			delete(c.unacked, seq)
			c.alive = false
			c.push(relaynet.Event{Kind: relaynet.EventDisconnect})
			return
		}
		p.attempts++
		p.sentAt = now
		c.drv.rawSend(c, p.data)
	}
	for id, asm := range c.assemblies {
		if now.Sub(asm.started) > fragExpiry {
			delete(c.assemblies, id)
		}
	}
	if now.Sub(c.lastPing) > pingInterval {
		c.lastPing = now
		c.drv.rawSend(c, []byte{opPing})
	}
}
