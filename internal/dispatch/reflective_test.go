package dispatch

import (
	"testing"

	"github.com/luciancaetano/relaynet"
)

func TestReflectiveTypedParameters(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	var gotUID relaynet.UID
	var gotMD relaynet.Metadata
	var gotValue int32
	var gotName string

	_, err := d.RegisterReflective(0x42, func(uid relaynet.UID, md relaynet.Metadata, value int32, name string) {
		gotUID, gotMD, gotValue, gotName = uid, md, value, name
	}, relaynet.HandlerOptions{})
	if err != nil {
		t.Fatal(err)
	}

	w := relaynet.NewWriter(0)
	w.WriteInt32(13)
	w.WriteString("ada")
	d.DispatchDefault(1, relaynet.NewMetadata(relaynet.TypeDefault, 0x05), 0x42, w.Bytes())

	if gotUID != 1 {
		t.Errorf("uid = %d, want 1", gotUID)
	}
	if gotMD.Flags() != 0x05 {
		t.Errorf("metadata flags = %#x, want 0x05", gotMD.Flags())
	}
	if gotValue != 13 {
		t.Errorf("value = %d, want 13", gotValue)
	}
	if gotName != "ada" {
		t.Errorf("name = %q, want %q", gotName, "ada")
	}
}

func TestReflectiveReservedParamsAnyOrder(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	var gotValue uint16
	var gotUID relaynet.UID

	_, err := d.RegisterReflective(0x43, func(value uint16, uid relaynet.UID) {
		gotValue, gotUID = value, uid
	}, relaynet.HandlerOptions{})
	if err != nil {
		t.Fatal(err)
	}

	w := relaynet.NewWriter(0)
	w.WriteUint16(777)
	d.DispatchDefault(1, 0, 0x43, w.Bytes())
	if gotValue != 777 || gotUID != 1 {
		t.Fatalf("got (%d, %d), want (777, 1)", gotValue, gotUID)
	}
}

func TestReflectiveShortPayloadDropsSilently(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	invoked := false
	d.RegisterReflective(0x44, func(v int64) { invoked = true }, relaynet.HandlerOptions{})

	d.DispatchDefault(1, 0, 0x44, []byte{1, 2, 3}) // int64 needs 8 bytes
	if invoked {
		t.Fatal("handler must not run on a short payload")
	}
}

func TestReflectiveMissingDeserializerRejected(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	type unknown struct{ X int }
	_, err := d.RegisterReflective(0x45, func(u unknown) {}, relaynet.HandlerOptions{})
	if err == nil {
		t.Fatal("registration must fail without a deserializer")
	}
	// the failed registration must not install anything
	if _, ok := d.defaults[0x45]; ok {
		t.Fatal("rejected registration left a handler behind")
	}
}

func TestReflectiveRejectsNonFunc(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	if _, err := d.RegisterReflective(0x46, 42, relaynet.HandlerOptions{}); err != relaynet.ErrBadHandlerShape {
		t.Fatalf("err = %v, want ErrBadHandlerShape", err)
	}
	if _, err := d.RegisterReflective(0x46, func() error { return nil }, relaynet.HandlerOptions{}); err != relaynet.ErrBadHandlerShape {
		t.Fatalf("err = %v, want ErrBadHandlerShape", err)
	}
}

func TestReflectiveControl(t *testing.T) {
	t.Parallel()

	d, dir := newTestDispatcher(t)
	_, err := d.RegisterReflectiveControl(relaynet.ControlSpec{Key: 2, ExpectedLength: 4}, func(uid relaynet.UID, token uint32) bool {
		return token == 0xCAFE
	})
	if err != nil {
		t.Fatal(err)
	}

	w := relaynet.NewWriter(0)
	w.WriteUint32(0xCAFE)
	d.DispatchControl(1, 0, 2, w.Bytes())

	rec, _ := dir.Lookup(1)
	if !rec.Flags.Meets(1 << 2) {
		t.Fatal("bit 2 should be set when the control func accepts")
	}
}

func TestReflectiveEventRejectsPayloadParams(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t)
	if _, err := d.RegisterReflectiveEvent(0x47, func(v int32) {}, relaynet.HandlerOptions{}); err == nil {
		t.Fatal("event handlers cannot declare payload parameters")
	}
	invoked := false
	if _, err := d.RegisterReflectiveEvent(0x47, func(uid relaynet.UID, md relaynet.Metadata) {
		invoked = true
	}, relaynet.HandlerOptions{}); err != nil {
		t.Fatal(err)
	}
	d.DispatchEvent(1, 0, 0x47)
	if !invoked {
		t.Fatal("event handler should run")
	}
}
