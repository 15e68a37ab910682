package wsdriver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/relaynet"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendQueue    = 256
)

// Conn is one websocket connection. The read and write pumps run on their
// own goroutines; the engine tick pops queued events under the mutex.
type Conn struct {
	handle     uuid.UUID
	ws         *websocket.Conn
	remoteAddr string

	mu     sync.Mutex
	events []relaynet.Event
	alive  bool

	sendCh chan []byte
	done   chan struct{}
}

func newConn(ws *websocket.Conn, remoteAddr string) *Conn {
	c := &Conn{
		handle:     uuid.New(),
		ws:         ws,
		remoteAddr: remoteAddr,
		alive:      true,
		sendCh:     make(chan []byte, sendQueue),
		done:       make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c
}

func (c *Conn) Handle() uuid.UUID { return c.handle }

func (c *Conn) RemoteAddr() string { return c.remoteAddr }

func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Conn) push(ev relaynet.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *Conn) pop() relaynet.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev
}

// enqueue hands a fully framed message (channel prefix included) to the
// write pump.
func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return relaynet.ErrConnectionNotFound
	}
	c.mu.Unlock()
	select {
	case c.sendCh <- data:
		return nil
	default:
		return relaynet.ErrSendDiscarded
	}
}

// close tears the socket down once; voluntary closes send a close frame
// first.
func (c *Conn) close(code int, reason string, notify bool) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	if notify {
		c.events = append(c.events, relaynet.Event{Kind: relaynet.EventDisconnect})
	}
	c.mu.Unlock()

	close(c.done)
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.ws.Close()
}

// readPump moves inbound messages onto the event queue. The channel
// prefix byte is stripped; the remaining bytes are one engine frame.
func (c *Conn) readPump() {
	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(websocket.CloseAbnormalClosure, "", true)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		if len(data) < 1 {
			continue
		}
		frame := make([]byte, len(data)-1)
		copy(frame, data[1:])
		c.push(relaynet.Event{Kind: relaynet.EventData, Reader: relaynet.NewReader(frame)})
	}
}

// writePump serializes socket writes and keeps the connection alive with
// periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.close(websocket.CloseAbnormalClosure, "", true)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "", true)
				return
			}
		case <-c.done:
			return
		}
	}
}
