package wsdriver

import (
	"bytes"
	"testing"
	"time"

	"github.com/luciancaetano/relaynet"
)

const testAddr = "127.0.0.1:17791"

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestWebsocketRoundTrip(t *testing.T) {
	srv := New(Config{Addr: testAddr})
	if err := srv.Bind(); err != nil {
		t.Skipf("cannot bind %s: %v", testAddr, err)
	}
	defer srv.Close()

	cli := New(Config{})
	if err := cli.Bind(); err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	cc, err := cli.Connect("ws://" + testAddr + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	if ev := cli.PopEvent(cc); ev.Kind != relaynet.EventConnect {
		t.Fatalf("client first event = %v, want Connect", ev.Kind)
	}

	var sc relaynet.Conn
	waitFor(t, func() bool {
		if sc == nil {
			sc, _ = srv.Accept()
		}
		return sc != nil
	})

	// client to server
	w, err := cli.BeginSend(relaynet.ChannelReliable, cc)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteBytes([]byte("hello"))
	if err := cli.EndSend(cc, w); err != nil {
		t.Fatal(err)
	}

	var frame []byte
	waitFor(t, func() bool {
		if ev := srv.PopEvent(sc); ev.Kind == relaynet.EventData {
			frame, _ = ev.Reader.Peek(ev.Reader.Remaining())
		}
		return frame != nil
	})
	if !bytes.Equal(frame, []byte("hello")) {
		t.Fatalf("server got %q, want %q", frame, "hello")
	}

	// server to client
	w, err = srv.BeginSend(relaynet.ChannelUnreliable, sc)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteBytes([]byte("hi back"))
	if err := srv.EndSend(sc, w); err != nil {
		t.Fatal(err)
	}

	frame = nil
	waitFor(t, func() bool {
		if ev := cli.PopEvent(cc); ev.Kind == relaynet.EventData {
			frame, _ = ev.Reader.Peek(ev.Reader.Remaining())
		}
		return frame != nil
	})
	if !bytes.Equal(frame, []byte("hi back")) {
		t.Fatalf("client got %q, want %q", frame, "hi back")
	}

	// disconnect surfaces on the peer
	srv.Disconnect(sc)
	gotClose := false
	waitFor(t, func() bool {
		if ev := cli.PopEvent(cc); ev.Kind == relaynet.EventDisconnect {
			gotClose = true
		}
		return gotClose || !cc.Alive()
	})
}
