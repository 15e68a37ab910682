package engine

import (
	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/observability"
)

// SendHandle owns an in-progress writer between BeginSend and Commit.
// The caller serializes payload fields into Writer() and then commits;
// handles left uncommitted are aborted by the next tick's sweep.
type SendHandle struct {
	uid  relaynet.UID
	conn relaynet.Conn
	drv  relaynet.Driver
	w    *relaynet.Writer
	done bool
}

// Writer returns the payload writer. Using it after Commit or the sweep
// is undefined.
func (h *SendHandle) Writer() *relaynet.Writer { return h.w }

// UID returns the target connection.
func (h *SendHandle) UID() relaynet.UID { return h.uid }

// BeginSend opens a frame toward uid on the given channel: the metadata
// byte and key are written, then the send pipeline runs. The caller fills
// the payload and commits.
func (c *core) BeginSend(uid relaynet.UID, key uint16, ch relaynet.Channel, md relaynet.Metadata) (*SendHandle, error) {
	cn, drv, ok := c.resolve(uid)
	if !ok {
		return nil, relaynet.ErrConnectionNotFound
	}
	w, err := drv.BeginSend(ch, cn)
	if err != nil {
		return nil, err
	}
	if w.Cap() < preambleLen {
		drv.AbortSend(cn, w)
		return nil, relaynet.ErrWriterTooSmall
	}
	w.WriteUint8(uint8(md))
	w.WriteUint16(key)

	params := &relaynet.Params{UID: uid, Metadata: md, Writer: w}
	switch c.sendPipe.Run(params) {
	case relaynet.PipelineDiscard:
		drv.AbortSend(cn, w)
		observability.CountSendAbort()
		return nil, relaynet.ErrSendDiscarded
	case relaynet.PipelineDisconnect:
		drv.AbortSend(cn, w)
		observability.CountSendAbort()
		c.queueDisconnect(uid)
		return nil, relaynet.ErrSendDisconnected
	}

	h := &SendHandle{uid: uid, conn: cn, drv: drv, w: w}
	c.pending = append(c.pending, h)
	return h, nil
}

// Commit writes the length trailer and hands the frame to the transport.
func (c *core) Commit(h *SendHandle) bool {
	if h == nil || h.done {
		return false
	}
	h.done = true
	if !h.w.WriteUint32(uint32(h.w.Len() + trailerLen)) {
		h.drv.AbortSend(h.conn, h.w)
		observability.CountSendAbort()
		return false
	}
	if err := h.drv.EndSend(h.conn, h.w); err != nil {
		c.log.Debug().Err(err).Uint64("uid", uint64(h.uid)).Msg("commit failed")
		observability.CountSendAbort()
		return false
	}
	observability.CountSendCommit()
	return true
}

// Abort releases the handle without sending.
func (c *core) Abort(h *SendHandle) {
	if h == nil || h.done {
		return
	}
	h.done = true
	h.drv.AbortSend(h.conn, h.w)
	observability.CountSendAbort()
}

// MulticastHandle carries a recipient set and one template payload buffer
// reused for every recipient at commit time.
type MulticastHandle struct {
	uids      []relaynet.UID
	key       uint16
	ch        relaynet.Channel
	md        relaynet.Metadata
	template  *relaynet.Writer
	broadcast bool
	done      bool
}

// Writer returns the template payload writer shared by all recipients.
func (h *MulticastHandle) Writer() *relaynet.Writer { return h.template }

// BeginMulticast opens a frame toward an explicit recipient set. The
// template the caller fills is copied per recipient at commit time.
func (c *core) BeginMulticast(uids []relaynet.UID, key uint16, ch relaynet.Channel, md relaynet.Metadata) *MulticastHandle {
	h := &MulticastHandle{
		uids:     append([]relaynet.UID(nil), uids...),
		key:      key,
		ch:       ch,
		md:       md,
		template: relaynet.NewWriter(0),
	}
	c.pendingMulti = append(c.pendingMulti, h)
	return h
}

// BeginBroadcast opens a frame toward every connection present at commit
// time.
func (c *core) BeginBroadcast(key uint16, ch relaynet.Channel, md relaynet.Metadata) *MulticastHandle {
	h := &MulticastHandle{
		key:       key,
		ch:        ch,
		md:        md,
		template:  relaynet.NewWriter(0),
		broadcast: true,
	}
	c.pendingMulti = append(c.pendingMulti, h)
	return h
}

// CommitMulticast sends the template to each recipient. Every recipient
// gets its own writer and its own send-pipeline run; recipients that fail
// any step are skipped individually. Returns the successful send count.
func (c *core) CommitMulticast(h *MulticastHandle) int {
	if h == nil || h.done {
		return 0
	}
	h.done = true
	uids := h.uids
	if h.broadcast {
		uids = c.dir.UIDs()
	}
	sent := 0
	for _, uid := range uids {
		cn, drv, ok := c.resolve(uid)
		if !ok {
			continue
		}
		w, err := drv.BeginSend(h.ch, cn)
		if err != nil {
			continue
		}
		if w.Cap() < preambleLen {
			drv.AbortSend(cn, w)
			continue
		}
		w.WriteUint8(uint8(h.md))
		w.WriteUint16(h.key)

		params := &relaynet.Params{UID: uid, Metadata: h.md, Writer: w}
		switch c.sendPipe.Run(params) {
		case relaynet.PipelineDiscard:
			drv.AbortSend(cn, w)
			observability.CountSendAbort()
			continue
		case relaynet.PipelineDisconnect:
			drv.AbortSend(cn, w)
			observability.CountSendAbort()
			c.queueDisconnect(uid)
			continue
		}
		if !w.WriteBytes(h.template.Bytes()) {
			drv.AbortSend(cn, w)
			observability.CountSendAbort()
			continue
		}
		if !w.WriteUint32(uint32(w.Len() + trailerLen)) {
			drv.AbortSend(cn, w)
			observability.CountSendAbort()
			continue
		}
		if err := drv.EndSend(cn, w); err != nil {
			observability.CountSendAbort()
			continue
		}
		observability.CountSendCommit()
		sent++
	}
	return sent
}

// sweepHandles aborts every handle left uncommitted by the previous tick
// so abandoned begin-sends cannot leak transport writers.
func (c *core) sweepHandles() {
	for _, h := range c.pending {
		if !h.done {
			h.done = true
			h.drv.AbortSend(h.conn, h.w)
			observability.CountSendAbort()
		}
	}
	c.pending = c.pending[:0]
	for _, h := range c.pendingMulti {
		h.done = true
	}
	c.pendingMulti = c.pendingMulti[:0]
}
