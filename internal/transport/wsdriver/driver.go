// Package wsdriver is the websocket transport. The four engine channels
// all ride the single ordered websocket stream; the channel prefix byte is
// kept on the wire so datagram and websocket peers frame identically.
package wsdriver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/relaynet"
)

// CheckOriginFn validates the origin of an inbound upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// AllOrigins allows every origin. Development only.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool { return true }
}

// Config configures the driver for either role.
type Config struct {
	// Addr is the server's listen address, e.g. ":7778". Unused on the
	// client.
	Addr string
	// Path is the upgrade endpoint. Defaults to "/ws".
	Path string
	// CheckOrigin gates inbound upgrades. Defaults to AllOrigins.
	CheckOrigin CheckOriginFn
	// MaxFrame bounds a single outgoing frame. Zero uses the writer
	// default.
	MaxFrame int
}

// Driver implements the transport contract over gorilla/websocket.
type Driver struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	pendingAccept []*Conn
	conns         []*Conn
	writers       map[*relaynet.Writer]relaynet.Channel
	listening     bool
}

func New(cfg Config) *Driver {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = AllOrigins()
	}
	return &Driver{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		writers: make(map[*relaynet.Writer]relaynet.Channel),
	}
}

func (d *Driver) Name() string { return "websocket" }

// Bind starts the listener when an address is configured; a client-side
// driver with no Addr binds trivially.
func (d *Driver) Bind() error {
	if d.cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc(d.cfg.Path, d.handleUpgrade)
	d.server = &http.Server{Addr: d.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		d.listening = true
		return nil
	}
}

func (d *Driver) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusBadRequest)
		return
	}
	c := newConn(ws, r.RemoteAddr)
	d.mu.Lock()
	d.pendingAccept = append(d.pendingAccept, c)
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

// Connect dials endpoint ("ws://host:port/ws").
func (d *Driver) Connect(endpoint string) (relaynet.Conn, error) {
	ws, resp, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c := newConn(ws, endpoint)
	c.push(relaynet.Event{Kind: relaynet.EventConnect})
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *Driver) Accept() (relaynet.Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pendingAccept) == 0 {
		return nil, false
	}
	c := d.pendingAccept[0]
	d.pendingAccept = d.pendingAccept[1:]
	return c, true
}

func (d *Driver) BeginSend(ch relaynet.Channel, c relaynet.Conn) (*relaynet.Writer, error) {
	wc, ok := c.(*Conn)
	if !ok || !wc.Alive() {
		return nil, relaynet.ErrConnectionNotFound
	}
	w := relaynet.NewWriter(d.cfg.MaxFrame)
	d.mu.Lock()
	d.writers[w] = ch
	d.mu.Unlock()
	return w, nil
}

func (d *Driver) AbortSend(c relaynet.Conn, w *relaynet.Writer) {
	d.mu.Lock()
	delete(d.writers, w)
	d.mu.Unlock()
}

func (d *Driver) EndSend(c relaynet.Conn, w *relaynet.Writer) error {
	wc, ok := c.(*Conn)
	if !ok {
		return relaynet.ErrConnectionNotFound
	}
	d.mu.Lock()
	ch, tracked := d.writers[w]
	delete(d.writers, w)
	d.mu.Unlock()
	if !tracked {
		return relaynet.ErrHandleCommitted
	}
	data := make([]byte, 1+w.Len())
	data[0] = byte(ch)
	copy(data[1:], w.Bytes())
	return wc.enqueue(data)
}

func (d *Driver) PopEvent(c relaynet.Conn) relaynet.Event {
	wc, ok := c.(*Conn)
	if !ok {
		return relaynet.Event{Kind: relaynet.EventEmpty}
	}
	return wc.pop()
}

func (d *Driver) Disconnect(c relaynet.Conn) {
	if wc, ok := c.(*Conn); ok {
		wc.close(websocket.CloseNormalClosure, "", false)
	}
}

// ScheduleUpdate is a no-op: the read and write pumps run continuously
// and events queue as they arrive.
func (d *Driver) ScheduleUpdate() {}

func (d *Driver) Close() error {
	d.mu.Lock()
	conns := append([]*Conn(nil), d.conns...)
	d.conns = nil
	d.pendingAccept = nil
	d.mu.Unlock()
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutdown", false)
	}
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(ctx)
	}
	return nil
}
