package dispatch

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/conn"
	"github.com/luciancaetano/relaynet/internal/observability"
)

type defaultReg struct {
	id       uint64
	fn       relaynet.DefaultHandler
	required uint16
}

type eventReg struct {
	id       uint64
	fn       relaynet.EventHandler
	required uint16
}

type controlReg struct {
	id       uint64
	fn       relaynet.ControlHandler
	required uint16
}

// controlSlot fixes the expected payload length at first registration;
// later registrations for the same key must declare the same length.
type controlSlot struct {
	expectedLength uint16
	regs           []controlReg
}

// Dispatcher routes decoded messages to the four handler families. Keys
// map to ordered handler lists; invocation order is registration order.
// Registration and dispatch both run on the tick goroutine; the directory
// lookups it performs are safe from anywhere.
type Dispatcher struct {
	side   relaynet.Side
	dir    *conn.Directory
	log    zerolog.Logger
	nextID uint64

	defaults map[uint16][]defaultReg
	events   map[uint16][]eventReg
	controls [relaynet.ControlKeyMax + 1]*controlSlot
}

func New(side relaynet.Side, dir *conn.Directory, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		side:     side,
		dir:      dir,
		log:      log,
		defaults: make(map[uint16][]defaultReg),
		events:   make(map[uint16][]eventReg),
	}
}

// accepts applies side filtering. An unspecified handler side registers
// everywhere.
func (d *Dispatcher) accepts(h relaynet.Side) bool {
	if h == relaynet.SideNone {
		h = relaynet.SideAny
	}
	return d.side.Accepts(h)
}

// RegisterDefault installs h for key. The returned id removes it again;
// id 0 means the registration was filtered out by side and nothing was
// installed.
func (d *Dispatcher) RegisterDefault(key uint16, h relaynet.DefaultHandler, opts relaynet.HandlerOptions) uint64 {
	if !d.accepts(opts.Side) {
		return 0
	}
	d.nextID++
	d.defaults[key] = append(d.defaults[key], defaultReg{id: d.nextID, fn: h, required: opts.RequiredFlags})
	return d.nextID
}

// UnregisterDefault removes the registration id under key. Unregistering
// an unknown id is a no-op; removing the last handler deletes the entry.
func (d *Dispatcher) UnregisterDefault(key uint16, id uint64) {
	regs := d.defaults[key]
	for i, reg := range regs {
		if reg.id == id {
			d.defaults[key] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(d.defaults[key]) == 0 {
		delete(d.defaults, key)
	}
}

// RegisterEvent installs h for key.
func (d *Dispatcher) RegisterEvent(key uint16, h relaynet.EventHandler, opts relaynet.HandlerOptions) uint64 {
	if !d.accepts(opts.Side) {
		return 0
	}
	d.nextID++
	d.events[key] = append(d.events[key], eventReg{id: d.nextID, fn: h, required: opts.RequiredFlags})
	return d.nextID
}

func (d *Dispatcher) UnregisterEvent(key uint16, id uint64) {
	regs := d.events[key]
	for i, reg := range regs {
		if reg.id == id {
			d.events[key] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(d.events[key]) == 0 {
		delete(d.events, key)
	}
}

// RegisterControl installs h in the slot spec.Key. The first registration
// for a key fixes its expected payload length; a later registration with a
// different length is rejected.
func (d *Dispatcher) RegisterControl(spec relaynet.ControlSpec, h relaynet.ControlHandler) (uint64, error) {
	if spec.Key > relaynet.ControlKeyMax {
		d.log.Error().
			Int("code", relaynet.CodeControlKeyRange).
			Uint8("key", spec.Key).
			Msg("control key out of range")
		return 0, relaynet.ErrControlKeyRange
	}
	if !d.accepts(spec.Side) {
		return 0, nil
	}
	slot := d.controls[spec.Key]
	if slot == nil {
		slot = &controlSlot{expectedLength: spec.ExpectedLength}
		d.controls[spec.Key] = slot
	} else if slot.expectedLength != spec.ExpectedLength {
		d.log.Error().
			Int("code", relaynet.CodeBadHandlerShape).
			Uint8("key", spec.Key).
			Msg("control expected length conflicts with existing registration")
		return 0, fmt.Errorf("control key %d: %w", spec.Key, relaynet.ErrBadHandlerShape)
	}
	d.nextID++
	slot.regs = append(slot.regs, controlReg{id: d.nextID, fn: h, required: spec.RequiredFlags})
	return d.nextID, nil
}

func (d *Dispatcher) UnregisterControl(key uint8, id uint64) {
	if key > relaynet.ControlKeyMax {
		return
	}
	slot := d.controls[key]
	if slot == nil {
		return
	}
	for i, reg := range slot.regs {
		if reg.id == id {
			slot.regs = append(slot.regs[:i], slot.regs[i+1:]...)
			break
		}
	}
	if len(slot.regs) == 0 {
		d.controls[key] = nil
	}
}

// gate runs the pre-checks shared by all dispatch paths.
func (d *Dispatcher) gate(uid relaynet.UID, key uint16, required uint16) (*conn.Record, bool) {
	rec, ok := d.dir.Lookup(uid)
	if !ok {
		d.log.Warn().
			Uint64("uid", uint64(uid)).
			Uint16("key", key).
			Msg("message from unknown connection")
		observability.CountDrop("unknown_connection")
		return nil, false
	}
	if !rec.Flags.Meets(required) {
		d.log.Info().
			Int("code", relaynet.WarnPermissionDenied).
			Uint64("uid", uint64(uid)).
			Uint16("key", key).
			Uint16("flags", rec.Flags.Load()).
			Uint16("required", required).
			Msg("permission denied")
		observability.CountDrop("permission_denied")
		return nil, false
	}
	return rec, true
}

func (d *Dispatcher) invoke(key uint16, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Int("code", relaynet.WarnHandlerPanic).
				Uint16("key", key).
				Interface("panic", p).
				Msg("handler panicked")
		}
	}()
	fn()
}

// DispatchDefault invokes the default-data handlers for key in
// registration order. Each handler reads the payload through its own
// reader so earlier handlers cannot starve later ones.
func (d *Dispatcher) DispatchDefault(uid relaynet.UID, md relaynet.Metadata, key uint16, payload []byte) {
	regs, ok := d.defaults[key]
	if !ok {
		d.log.Warn().
			Int("code", relaynet.WarnUnknownKey).
			Uint16("key", key).
			Uint64("uid", uint64(uid)).
			Msg("invalid key")
		observability.CountDrop("unknown_key")
		return
	}
	for _, reg := range regs {
		if _, ok := d.gate(uid, key, reg.required); !ok {
			continue
		}
		r := relaynet.NewReader(payload)
		d.invoke(key, func() { reg.fn(uid, md, r) })
	}
}

// DispatchEvent invokes the event handlers for key.
func (d *Dispatcher) DispatchEvent(uid relaynet.UID, md relaynet.Metadata, key uint16) {
	regs, ok := d.events[key]
	if !ok {
		d.log.Warn().
			Int("code", relaynet.WarnUnknownKey).
			Uint16("key", key).
			Uint64("uid", uint64(uid)).
			Msg("invalid key")
		observability.CountDrop("unknown_key")
		return
	}
	for _, reg := range regs {
		if _, ok := d.gate(uid, key, reg.required); !ok {
			continue
		}
		d.invoke(key, func() { reg.fn(uid, md) })
	}
}

// DispatchControl invokes the control slot for key. A true return from
// any callable sets permission bit key on the sender's connection; this is
// the only permission mutation driven by incoming traffic.
func (d *Dispatcher) DispatchControl(uid relaynet.UID, md relaynet.Metadata, key uint8, payload []byte) {
	if key > relaynet.ControlKeyMax {
		return
	}
	slot := d.controls[key]
	if slot == nil {
		d.log.Warn().
			Int("code", relaynet.WarnUnknownKey).
			Uint8("key", key).
			Uint64("uid", uint64(uid)).
			Msg("invalid control key")
		observability.CountDrop("unknown_key")
		return
	}
	if len(payload) != int(slot.expectedLength) {
		d.log.Warn().
			Int("code", relaynet.WarnControlLength).
			Uint8("key", key).
			Int("length", len(payload)).
			Uint16("expected", slot.expectedLength).
			Msg("control payload length mismatch")
		observability.CountDrop("control_length")
		return
	}
	for _, reg := range slot.regs {
		rec, ok := d.gate(uid, uint16(key), reg.required)
		if !ok {
			continue
		}
		r := relaynet.NewReader(payload)
		d.invoke(uint16(key), func() {
			if reg.fn(uid, md, r) {
				rec.Flags.SetBit(key)
			}
		})
	}
}
