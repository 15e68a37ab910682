// Package relaynet provides a client/server message engine for real-time
// interactive applications over datagram or WebSocket transports.
//
// Both sides exchange short typed messages: a one-byte metadata header, a
// 16-bit message key, a payload and a 32-bit length trailer. Payloads are
// either opaque byte streams read through a Reader, or structured fields
// that the engine serializes and deserializes through the codec registry.
//
// # Architecture
//
// A server engine multiplexes many concurrent connections, assigns each a
// stable 64-bit UID, tracks a 16-bit permission bitmask per connection and
// applies receive/send pipelines of user-supplied steps before handing
// messages to a key-indexed dispatcher. The dispatcher supports four
// handler families:
//
//   - default data handlers: func(uid, metadata, reader)
//   - event handlers: func(uid, metadata), payload-free messages
//   - control handlers: func(uid, metadata, reader) bool, keys 0-15; a true
//     return sets the matching permission bit on the sender's connection
//   - reflective handlers: user functions with typed parameters that the
//     engine deserializes automatically via the codec registry
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/relaynet/config"
//	    "github.com/luciancaetano/relaynet/server"
//	)
//
//	cfg := config.Default()
//	cfg.MaxPlayers = 64
//
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv.RegisterDefault(0x0042, func(uid relaynet.UID, md relaynet.Metadata, r *relaynet.Reader) {
//	    v, _ := r.ReadInt32()
//	    // ...
//	}, relaynet.HandlerOptions{})
//
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	// host scheduler drives the engine:
//	for running {
//	    srv.Tick()
//	}
//	srv.Stop()
//
// # Wire Format
//
//	[1 byte: metadata][2 bytes: key, LE][N bytes: payload][4 bytes: total length, LE]
//
// Bits 6-7 of the metadata byte select the message type (Default,
// VarTracking, Event, Control); bits 0-5 are carried verbatim end-to-end.
// Event frames carry no payload. Control frames use keys 0-15 and their
// payload length must equal the registered handler's declared length.
//
// # Pipelines
//
// Receive and send pipelines are ordered step lists; each step returns
// Success, Failure or DisconnectClient. A built-in rate-limit step wraps a
// per-connection token bucket. Send pipelines run after the metadata byte
// and key are written and before the caller serializes payload.
//
// # Important
//
//   - Tick runs to completion before the next tick; handlers and pipeline
//     steps execute on the tick goroutine.
//   - A begin-send handle owns its writer until Commit or the next tick's
//     sweep aborts it.
//   - Connection UIDs are quarantined for five minutes after disconnect and
//     never reused while quarantined.
package relaynet
