package relaynet

import (
	"reflect"
	"sync"
	"time"
)

// SerializeFunc writes v into w. Returns false when the writer runs out of
// room or v is not the expected type.
type SerializeFunc func(w *Writer, v any) bool

// DeserializeFunc reads one value from r. On failure the reader must be
// left where it was.
type DeserializeFunc func(r *Reader) (any, bool)

// The codec registry maps Go types to wire serializers and deserializers.
// Registration is process-wide; re-registering a type replaces the prior
// entry.
var codecs = struct {
	mu            sync.RWMutex
	serializers   map[reflect.Type]SerializeFunc
	deserializers map[reflect.Type]DeserializeFunc
}{
	serializers:   make(map[reflect.Type]SerializeFunc),
	deserializers: make(map[reflect.Type]DeserializeFunc),
}

// RegisterSerializer installs fn as the serializer for t.
func RegisterSerializer(t reflect.Type, fn SerializeFunc) {
	codecs.mu.Lock()
	defer codecs.mu.Unlock()
	codecs.serializers[t] = fn
}

// RegisterDeserializer installs fn as the deserializer for t.
func RegisterDeserializer(t reflect.Type, fn DeserializeFunc) {
	codecs.mu.Lock()
	defer codecs.mu.Unlock()
	codecs.deserializers[t] = fn
}

// SerializerFor looks up the serializer for t.
func SerializerFor(t reflect.Type) (SerializeFunc, bool) {
	codecs.mu.RLock()
	defer codecs.mu.RUnlock()
	fn, ok := codecs.serializers[t]
	return fn, ok
}

// DeserializerFor looks up the deserializer for t.
func DeserializerFor(t reflect.Type) (DeserializeFunc, bool) {
	codecs.mu.RLock()
	defer codecs.mu.RUnlock()
	fn, ok := codecs.deserializers[t]
	return fn, ok
}

// Serialize writes v into w using the registered serializer for v's
// dynamic type. A missing codec is a configuration error and returns
// ErrMissingSerializer.
func Serialize(w *Writer, v any) error {
	fn, ok := SerializerFor(reflect.TypeOf(v))
	if !ok {
		return ErrMissingSerializer
	}
	if !fn(w, v) {
		return ErrWriterTooSmall
	}
	return nil
}

func init() {
	registerBuiltinCodecs()
}

// registerBuiltinCodecs installs the primitive codecs available on every
// endpoint: fixed-width integers, floats, timestamps, length-prefixed
// strings and the small float vectors.
func registerBuiltinCodecs() {
	register(func(w *Writer, v uint8) bool { return w.WriteUint8(v) },
		func(r *Reader) (uint8, bool) { return r.ReadUint8() })
	register(func(w *Writer, v int8) bool { return w.WriteInt8(v) },
		func(r *Reader) (int8, bool) { return r.ReadInt8() })
	register(func(w *Writer, v uint16) bool { return w.WriteUint16(v) },
		func(r *Reader) (uint16, bool) { return r.ReadUint16() })
	register(func(w *Writer, v int16) bool { return w.WriteInt16(v) },
		func(r *Reader) (int16, bool) { return r.ReadInt16() })
	register(func(w *Writer, v uint32) bool { return w.WriteUint32(v) },
		func(r *Reader) (uint32, bool) { return r.ReadUint32() })
	register(func(w *Writer, v int32) bool { return w.WriteInt32(v) },
		func(r *Reader) (int32, bool) { return r.ReadInt32() })
	register(func(w *Writer, v uint64) bool { return w.WriteUint64(v) },
		func(r *Reader) (uint64, bool) { return r.ReadUint64() })
	register(func(w *Writer, v int64) bool { return w.WriteInt64(v) },
		func(r *Reader) (int64, bool) { return r.ReadInt64() })
	register(func(w *Writer, v float32) bool { return w.WriteFloat32(v) },
		func(r *Reader) (float32, bool) { return r.ReadFloat32() })
	register(func(w *Writer, v float64) bool { return w.WriteFloat64(v) },
		func(r *Reader) (float64, bool) { return r.ReadFloat64() })
	register(func(w *Writer, v string) bool { return w.WriteString(v) },
		func(r *Reader) (string, bool) { return r.ReadString() })

	// Timestamps travel as a signed 64-bit nanosecond tick count.
	register(func(w *Writer, v time.Time) bool { return w.WriteInt64(v.UnixNano()) },
		func(r *Reader) (time.Time, bool) {
			ticks, ok := r.ReadInt64()
			if !ok {
				return time.Time{}, false
			}
			return time.Unix(0, ticks), true
		})

	register(func(w *Writer, v Vec2) bool {
		return w.WriteFloat32(v.X) && w.WriteFloat32(v.Y)
	}, func(r *Reader) (Vec2, bool) {
		if r.Remaining() < 8 {
			return Vec2{}, false
		}
		x, _ := r.ReadFloat32()
		y, _ := r.ReadFloat32()
		return Vec2{X: x, Y: y}, true
	})
	register(func(w *Writer, v Vec3) bool {
		return w.WriteFloat32(v.X) && w.WriteFloat32(v.Y) && w.WriteFloat32(v.Z)
	}, func(r *Reader) (Vec3, bool) {
		if r.Remaining() < 12 {
			return Vec3{}, false
		}
		x, _ := r.ReadFloat32()
		y, _ := r.ReadFloat32()
		z, _ := r.ReadFloat32()
		return Vec3{X: x, Y: y, Z: z}, true
	})
}

func register[T any](ser func(w *Writer, v T) bool, de func(r *Reader) (T, bool)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	RegisterSerializer(t, func(w *Writer, v any) bool {
		tv, ok := v.(T)
		if !ok {
			return false
		}
		return ser(w, tv)
	})
	RegisterDeserializer(t, func(r *Reader) (any, bool) {
		v, ok := de(r)
		if !ok {
			return nil, false
		}
		return v, true
	})
}
