package dispatch

import (
	"fmt"
	"reflect"

	"github.com/luciancaetano/relaynet"
)

// Reflective handlers are plain Go funcs whose typed parameters the engine
// decodes from the payload. Go carries no parameter names at runtime, so
// the reserved parameters are recognized by type: relaynet.UID binds the
// sender's UID and relaynet.Metadata binds the metadata byte. Every other
// parameter needs a registered deserializer at registration time.
//
// The wrapper decodes non-reserved parameters in declaration order; a
// decode failure drops the message silently and the user func never runs.

var (
	uidType  = reflect.TypeOf(relaynet.UID(0))
	mdType   = reflect.TypeOf(relaynet.Metadata(0))
	boolType = reflect.TypeOf(false)
)

// paramBinder produces one argument for the user func. Decoding binders
// return ok=false on short or malformed payloads.
type paramBinder func(uid relaynet.UID, md relaynet.Metadata, r *relaynet.Reader) (reflect.Value, bool)

func buildBinders(t reflect.Type) ([]paramBinder, error) {
	binders := make([]paramBinder, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		switch pt {
		case uidType:
			binders[i] = func(uid relaynet.UID, _ relaynet.Metadata, _ *relaynet.Reader) (reflect.Value, bool) {
				return reflect.ValueOf(uid), true
			}
		case mdType:
			binders[i] = func(_ relaynet.UID, md relaynet.Metadata, _ *relaynet.Reader) (reflect.Value, bool) {
				return reflect.ValueOf(md), true
			}
		default:
			de, ok := relaynet.DeserializerFor(pt)
			if !ok {
				return nil, fmt.Errorf("parameter %d (%s): %w", i, pt, relaynet.ErrMissingDeserializer)
			}
			binders[i] = func(_ relaynet.UID, _ relaynet.Metadata, r *relaynet.Reader) (reflect.Value, bool) {
				v, ok := de(r)
				if !ok {
					return reflect.Value{}, false
				}
				return reflect.ValueOf(v), true
			}
		}
	}
	return binders, nil
}

func bindArgs(binders []paramBinder, uid relaynet.UID, md relaynet.Metadata, r *relaynet.Reader) ([]reflect.Value, bool) {
	args := make([]reflect.Value, len(binders))
	for i, bind := range binders {
		v, ok := bind(uid, md, r)
		if !ok {
			return nil, false
		}
		args[i] = v
	}
	return args, true
}

func (d *Dispatcher) reflectiveError(key uint16, err error) error {
	d.log.Error().
		Int("code", relaynet.CodeMissingDeserializer).
		Uint16("key", key).
		Err(err).
		Msg("reflective registration rejected")
	return err
}

// RegisterReflective compiles fn into a default-data handler for key.
// fn must be a func with no return values.
func (d *Dispatcher) RegisterReflective(key uint16, fn any, opts relaynet.HandlerOptions) (uint64, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() != 0 || t.IsVariadic() {
		d.log.Error().
			Int("code", relaynet.CodeBadHandlerShape).
			Uint16("key", key).
			Msg("reflective default handler must be a func with no results")
		return 0, relaynet.ErrBadHandlerShape
	}
	binders, err := buildBinders(t)
	if err != nil {
		return 0, d.reflectiveError(key, err)
	}
	fv := reflect.ValueOf(fn)
	wrapper := func(uid relaynet.UID, md relaynet.Metadata, r *relaynet.Reader) {
		args, ok := bindArgs(binders, uid, md, r)
		if !ok {
			return
		}
		fv.Call(args)
	}
	return d.RegisterDefault(key, wrapper, opts), nil
}

// RegisterReflectiveEvent compiles fn into an event handler for key.
// Events carry no payload, so only the reserved parameter types are
// allowed.
func (d *Dispatcher) RegisterReflectiveEvent(key uint16, fn any, opts relaynet.HandlerOptions) (uint64, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() != 0 || t.IsVariadic() {
		return 0, d.badShape(key, "reflective event handler must be a func with no results")
	}
	for i := 0; i < t.NumIn(); i++ {
		if pt := t.In(i); pt != uidType && pt != mdType {
			return 0, d.badShape(key, "reflective event handler cannot declare payload parameters")
		}
	}
	binders, err := buildBinders(t)
	if err != nil {
		return 0, d.reflectiveError(key, err)
	}
	fv := reflect.ValueOf(fn)
	wrapper := func(uid relaynet.UID, md relaynet.Metadata) {
		args, _ := bindArgs(binders, uid, md, nil)
		fv.Call(args)
	}
	return d.RegisterEvent(key, wrapper, opts), nil
}

// RegisterReflectiveControl compiles fn into a control handler. fn must
// return exactly one bool; a true result grants the permission bit.
func (d *Dispatcher) RegisterReflectiveControl(spec relaynet.ControlSpec, fn any) (uint64, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() != 1 || t.Out(0) != boolType || t.IsVariadic() {
		return 0, d.badShape(uint16(spec.Key), "reflective control handler must be a func returning bool")
	}
	binders, err := buildBinders(t)
	if err != nil {
		return 0, d.reflectiveError(uint16(spec.Key), err)
	}
	fv := reflect.ValueOf(fn)
	wrapper := func(uid relaynet.UID, md relaynet.Metadata, r *relaynet.Reader) bool {
		args, ok := bindArgs(binders, uid, md, r)
		if !ok {
			return false
		}
		return fv.Call(args)[0].Bool()
	}
	return d.RegisterControl(spec, wrapper)
}

func (d *Dispatcher) badShape(key uint16, msg string) error {
	d.log.Error().
		Int("code", relaynet.CodeBadHandlerShape).
		Uint16("key", key).
		Msg(msg)
	return relaynet.ErrBadHandlerShape
}
