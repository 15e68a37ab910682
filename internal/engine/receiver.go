package engine

import (
	"encoding/binary"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/observability"
)

// Outcome is the receiver's verdict on one inbound frame.
type Outcome int

const (
	// OutcomeKeepAlive keeps the connection open whether or not the
	// frame was dispatched.
	OutcomeKeepAlive Outcome = iota
	// OutcomeDisconnect terminates the connection; the engine skips its
	// remaining events this tick.
	OutcomeDisconnect
)

// frame layout: metadata byte, 16-bit key, payload, 32-bit total length.
const (
	preambleLen = 3
	trailerLen  = 4
	minFrameLen = preambleLen + trailerLen
)

// receive decodes one frame and routes it. The reader is positioned at
// byte 0 and spans the whole frame including the trailer. Framing errors
// drop the frame, never the connection.
func (c *core) receive(uid relaynet.UID, r *relaynet.Reader) Outcome {
	total := r.Remaining()
	if total < preambleLen {
		return OutcomeKeepAlive
	}

	mdByte, _ := r.ReadUint8()
	md := relaynet.Metadata(mdByte)
	key, _ := r.ReadUint16()

	if total < minFrameLen {
		c.dropFrame(uid, key, "short frame")
		return OutcomeKeepAlive
	}
	rest, _ := r.Peek(r.Remaining())
	declared := binary.LittleEndian.Uint32(rest[len(rest)-trailerLen:])
	if declared != uint32(total) {
		c.dropFrame(uid, key, "length trailer mismatch")
		return OutcomeKeepAlive
	}
	// restrict the reader to the payload
	r.Truncate(total - minFrameLen)

	observability.CountFrame(md.Type().String())

	switch md.Type() {
	case relaynet.TypeDefault:
		params := &relaynet.Params{UID: uid, Metadata: md, Reader: r}
		switch c.recvPipe.Run(params) {
		case relaynet.PipelineDiscard:
			observability.CountDrop("receive_pipeline")
			return OutcomeKeepAlive
		case relaynet.PipelineDisconnect:
			observability.CountDrop("receive_pipeline")
			return OutcomeDisconnect
		}
		payload, _ := r.Peek(r.Remaining())
		c.disp.DispatchDefault(uid, md, key, payload)

	case relaynet.TypeEvent:
		if total != minFrameLen {
			c.dropFrame(uid, key, "event frame carries payload")
			return OutcomeKeepAlive
		}
		c.disp.DispatchEvent(uid, md, key)

	case relaynet.TypeControl:
		if key > uint16(relaynet.ControlKeyMax) {
			c.dropFrame(uid, key, "control key out of range")
			return OutcomeKeepAlive
		}
		payload, _ := r.Peek(r.Remaining())
		c.disp.DispatchControl(uid, md, uint8(key), payload)

	default:
		// VarTracking and reserved types are a forward-compatible no-op.
	}
	return OutcomeKeepAlive
}

func (c *core) dropFrame(uid relaynet.UID, key uint16, reason string) {
	c.log.Debug().
		Int("code", relaynet.WarnFramingError).
		Uint64("uid", uint64(uid)).
		Uint16("key", key).
		Str("reason", reason).
		Msg("frame dropped")
	observability.CountDrop("framing")
}
