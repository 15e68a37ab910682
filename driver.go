package relaynet

import "github.com/google/uuid"

// Conn is a transport-level connection handle. The engine maps each Conn
// to a numeric UID; the uuid identifies the connection at the driver layer
// before and after that mapping exists.
type Conn interface {
	// Handle returns the driver-assigned connection identity.
	Handle() uuid.UUID

	// RemoteAddr returns the peer's network address.
	RemoteAddr() string

	// Alive reports whether the transport still considers the connection
	// usable. The engine reaps connections whose handle has gone dead.
	Alive() bool
}

// EventKind discriminates driver events.
type EventKind int

const (
	EventEmpty EventKind = iota
	EventConnect
	EventData
	EventDisconnect
)

// Event is one transport occurrence popped by the engine tick.
type Event struct {
	Kind EventKind
	// Reader holds the full received frame for EventData.
	Reader *Reader
}

// Driver is the transport abstraction the engine runs on. Implementations
// expose the four named channels and queue events per connection; all
// methods are called from the tick goroutine.
type Driver interface {
	// Name identifies the driver in logs ("udp", "websocket", "mem").
	Name() string

	// Bind prepares the driver: listen on the server, allocate state on
	// the client.
	Bind() error

	// Connect establishes the client-side connection.
	Connect(endpoint string) (Conn, error)

	// Accept returns the next pending inbound connection, if any.
	Accept() (Conn, bool)

	// BeginSend acquires a writer for one outgoing frame on a channel.
	BeginSend(ch Channel, c Conn) (*Writer, error)

	// AbortSend releases a writer without transmitting.
	AbortSend(c Conn, w *Writer)

	// EndSend transmits the writer's bytes and releases it.
	EndSend(c Conn, w *Writer) error

	// PopEvent dequeues the next event for c, or Kind == EventEmpty.
	PopEvent(c Conn) Event

	// Disconnect closes c. Safe to call more than once.
	Disconnect(c Conn)

	// ScheduleUpdate drives one transport cycle: flush sends, collect
	// received datagrams/messages into the per-connection event queues.
	ScheduleUpdate()

	// Close releases the driver and all its connections.
	Close() error
}
