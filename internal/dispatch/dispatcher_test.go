package dispatch

import (
	"testing"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/conn"
	"github.com/luciancaetano/relaynet/internal/observability"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *conn.Directory) {
	t.Helper()
	dir := conn.NewDirectory()
	dir.Register(1, 0, nil)
	return New(relaynet.SideServer, dir, observability.Nop()), dir
}

func TestDispatchDefaultInvokesInOrder(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	var order []int
	d.RegisterDefault(0x10, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		order = append(order, 1)
	}, relaynet.HandlerOptions{})
	d.RegisterDefault(0x10, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		order = append(order, 2)
	}, relaynet.HandlerOptions{})

	d.DispatchDefault(1, 0, 0x10, nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("invocation order = %v, want [1 2]", order)
	}
}

func TestDispatchEachHandlerGetsOwnReader(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	payload := []byte{0x2A, 0x00, 0x00, 0x00}
	var values []int32
	read := func(_ relaynet.UID, _ relaynet.Metadata, r *relaynet.Reader) {
		v, ok := r.ReadInt32()
		if !ok {
			t.Error("read failed")
		}
		values = append(values, v)
	}
	d.RegisterDefault(0x11, read, relaynet.HandlerOptions{})
	d.RegisterDefault(0x11, read, relaynet.HandlerOptions{})

	d.DispatchDefault(1, 0, 0x11, payload)
	if len(values) != 2 || values[0] != 42 || values[1] != 42 {
		t.Fatalf("values = %v, want [42 42]", values)
	}
}

func TestPermissionGate(t *testing.T) {
	t.Parallel()

	d, dir := newTestDispatcher(t)
	invoked := false
	d.RegisterDefault(0x05, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		invoked = true
	}, relaynet.HandlerOptions{RequiredFlags: 0x0001})

	d.DispatchDefault(1, 0, 0x05, nil)
	if invoked {
		t.Fatal("handler ran without required flags")
	}

	rec, _ := dir.Lookup(1)
	rec.Flags.SetBit(0)
	d.DispatchDefault(1, 0, 0x05, nil)
	if !invoked {
		t.Fatal("handler should run once flags are satisfied")
	}
}

func TestUnknownConnectionDropped(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	invoked := false
	d.RegisterDefault(0x06, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		invoked = true
	}, relaynet.HandlerOptions{})

	d.DispatchDefault(99, 0, 0x06, nil)
	if invoked {
		t.Fatal("handler ran for unregistered uid")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	count := 0
	h := func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) { count++ }
	id1 := d.RegisterDefault(0x20, h, relaynet.HandlerOptions{})
	id2 := d.RegisterDefault(0x20, h, relaynet.HandlerOptions{})

	d.DispatchDefault(1, 0, 0x20, nil)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	d.UnregisterDefault(0x20, id1)
	d.UnregisterDefault(0x20, id1) // no-op
	d.DispatchDefault(1, 0, 0x20, nil)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	d.UnregisterDefault(0x20, id2)
	d.DispatchDefault(1, 0, 0x20, nil)
	if count != 3 {
		t.Fatalf("count after full unregister = %d, want 3", count)
	}
	if _, ok := d.defaults[0x20]; ok {
		t.Error("empty handler list should be deleted")
	}
}

func TestControlGrantsPermissionBit(t *testing.T) {
	t.Parallel()

	d, dir := newTestDispatcher(t)
	grant := true
	if _, err := d.RegisterControl(relaynet.ControlSpec{Key: 3}, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) bool {
		return grant
	}); err != nil {
		t.Fatal(err)
	}

	d.DispatchControl(1, 0, 3, nil)
	rec, _ := dir.Lookup(1)
	if !rec.Flags.Meets(1 << 3) {
		t.Fatal("bit 3 should be set after a true return")
	}

	grant = false
	rec.Flags.ClearBit(3)
	d.DispatchControl(1, 0, 3, nil)
	if rec.Flags.Load() != 0 {
		t.Fatal("false return must not change flags")
	}
}

func TestControlLengthMismatch(t *testing.T) {
	t.Parallel()

	d, dir := newTestDispatcher(t)
	invoked := false
	d.RegisterControl(relaynet.ControlSpec{Key: 4, ExpectedLength: 2}, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) bool {
		invoked = true
		return true
	})

	d.DispatchControl(1, 0, 4, []byte{1})
	if invoked {
		t.Fatal("handler ran despite length mismatch")
	}
	rec, _ := dir.Lookup(1)
	if rec.Flags.Load() != 0 {
		t.Fatal("flags must be untouched on mismatch")
	}

	d.DispatchControl(1, 0, 4, []byte{1, 2})
	if !invoked {
		t.Fatal("handler should run with the declared length")
	}
}

func TestControlKeyRangeRejected(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	_, err := d.RegisterControl(relaynet.ControlSpec{Key: 16}, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) bool {
		return false
	})
	if err != relaynet.ErrControlKeyRange {
		t.Fatalf("err = %v, want ErrControlKeyRange", err)
	}
}

func TestControlConflictingLengthRejected(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	ok := func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) bool { return false }
	if _, err := d.RegisterControl(relaynet.ControlSpec{Key: 5, ExpectedLength: 4}, ok); err != nil {
		t.Fatal(err)
	}
	if _, err := d.RegisterControl(relaynet.ControlSpec{Key: 5, ExpectedLength: 8}, ok); err == nil {
		t.Fatal("conflicting expected length must be rejected")
	}
}

func TestSideFiltering(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t) // SideServer
	if id := d.RegisterDefault(0x30, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {},
		relaynet.HandlerOptions{Side: relaynet.SideClient}); id != 0 {
		t.Error("client-only handler must be filtered on a server dispatcher")
	}
	if id := d.RegisterDefault(0x30, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {},
		relaynet.HandlerOptions{Side: relaynet.SideCommon}); id == 0 {
		t.Error("common handler must register on a server dispatcher")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	after := false
	d.RegisterDefault(0x40, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		panic("boom")
	}, relaynet.HandlerOptions{})
	d.RegisterDefault(0x40, func(relaynet.UID, relaynet.Metadata, *relaynet.Reader) {
		after = true
	}, relaynet.HandlerOptions{})

	d.DispatchDefault(1, 0, 0x40, nil)
	if !after {
		t.Fatal("a panicking handler must not stop later handlers")
	}
}
