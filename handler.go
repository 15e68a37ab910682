package relaynet

// DefaultHandler processes a default-data message. The reader is
// positioned at the payload with the trailer already stripped.
type DefaultHandler func(uid UID, md Metadata, r *Reader)

// EventHandler processes a payload-free event message.
type EventHandler func(uid UID, md Metadata)

// ControlHandler processes a control message. Returning true sets the
// permission bit matching the control key on the sender's connection.
type ControlHandler func(uid UID, md Metadata, r *Reader) bool

// HandlerOptions annotate a default or event handler registration.
type HandlerOptions struct {
	// RequiredFlags must all be set on the sender's connection or the
	// handler is skipped and the frame dropped.
	RequiredFlags uint16
	// Side declares which dispatcher sides may register this handler.
	// Zero value registers everywhere.
	Side Side
}

// ControlSpec annotates a control handler registration.
type ControlSpec struct {
	// Key selects the control slot, 0-15.
	Key uint8
	// ExpectedLength is the exact payload byte count the handler accepts.
	ExpectedLength uint16
	RequiredFlags  uint16
	Side           Side
}
