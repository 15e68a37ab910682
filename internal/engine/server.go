package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/conn"
	"github.com/luciancaetano/relaynet/internal/observability"
)

// sweepInterval is how often the server reaps expired UID trackers.
const sweepInterval = 2 * time.Minute

// ServerOptions configure the server engine.
type ServerOptions struct {
	// MaxPlayers caps concurrent connections. Must be > 0.
	MaxPlayers int
	// StopOnBindFailure aborts Start when any driver fails to bind;
	// otherwise the server runs with the drivers that bound.
	StopOnBindFailure bool
	// Side filters handler registrations; defaults to SideServer.
	Side relaynet.Side
	// Logger defaults to a nop logger when zero.
	Logger *zerolog.Logger
}

type connEntry struct {
	uid  relaynet.UID
	conn relaynet.Conn
	drv  relaynet.Driver
}

// Server is the tick-driven server engine. It owns its drivers, the
// connection list, the UID allocator and the expiration trackers; all
// mutation happens on the tick goroutine.
type Server struct {
	core

	opts     ServerOptions
	drivers  []relaynet.Driver
	bound    []relaynet.Driver
	entries  []*connEntry
	trackers *conn.TrackerMap

	nextUID   uint64
	started   bool
	ticking   atomic.Bool
	now       func() time.Time
	lastSweep time.Time

	disconnects []relaynet.UID

	onConnected    []func(relaynet.UID)
	onDisconnected []func(relaynet.UID)
}

// NewServer builds a server engine over the given drivers. Start binds
// them; the host scheduler then drives Tick.
func NewServer(opts ServerOptions, drivers ...relaynet.Driver) *Server {
	if opts.Side == relaynet.SideNone {
		opts.Side = relaynet.SideServer
	}
	log := observability.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &Server{
		opts:     opts,
		drivers:  drivers,
		trackers: conn.NewTrackerMap(),
		now:      time.Now,
	}
	s.core.init(opts.Side, log)
	s.core.resolve = s.resolveUID
	s.core.queueDisconnect = func(uid relaynet.UID) {
		s.disconnects = append(s.disconnects, uid)
	}
	return s
}

// OnClientConnected subscribes to accepted connections. Emission happens
// on the tick goroutine.
func (s *Server) OnClientConnected(fn func(relaynet.UID)) {
	s.onConnected = append(s.onConnected, fn)
}

// OnClientDisconnected subscribes to disconnects; callbacks run before
// the connection record is removed from the directory.
func (s *Server) OnClientDisconnected(fn func(relaynet.UID)) {
	s.onDisconnected = append(s.onDisconnected, fn)
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int { return len(s.entries) }

// Start validates configuration and binds the drivers.
func (s *Server) Start() error {
	if s.started {
		s.log.Error().Int("code", relaynet.CodeEngineDoubleStart).Msg("start called twice")
		return relaynet.ErrAlreadyStarted
	}
	if len(s.drivers) == 0 {
		s.log.Error().Int("code", relaynet.CodeEngineNoDrivers).Msg("no drivers configured")
		return relaynet.ErrNoDrivers
	}
	if s.opts.MaxPlayers <= 0 {
		s.log.Error().Int("code", relaynet.CodeEngineZeroCap).Msg("max_players must be positive")
		return relaynet.ErrZeroMaxPlayers
	}

	for _, drv := range s.drivers {
		if err := drv.Bind(); err != nil {
			s.log.Error().
				Int("code", relaynet.CodeBindFailed).
				Str("driver", drv.Name()).
				Err(err).
				Msg("driver bind failed")
			if s.opts.StopOnBindFailure {
				s.releaseDrivers()
				return fmt.Errorf("%s: %w", drv.Name(), relaynet.ErrBindFailed)
			}
			continue
		}
		s.bound = append(s.bound, drv)
	}
	if len(s.bound) == 0 {
		s.log.Error().Int("code", relaynet.CodeBindFailed).Msg("no driver bound")
		return relaynet.ErrBindFailed
	}
	if len(s.bound) < len(s.drivers) {
		s.log.Warn().
			Int("code", relaynet.CodeBindPartial).
			Int("bound", len(s.bound)).
			Int("configured", len(s.drivers)).
			Msg("running with partially bound drivers")
	}

	s.started = true
	s.lastSweep = s.now()
	s.log.Info().Int("max_players", s.opts.MaxPlayers).Int("drivers", len(s.bound)).Msg("server started")
	return nil
}

// Stop disconnects everything and releases the drivers.
func (s *Server) Stop() {
	if !s.started {
		return
	}
	for _, e := range s.entries {
		e.drv.Disconnect(e.conn)
		s.dir.Remove(e.uid)
	}
	s.entries = nil
	s.releaseDrivers()
	s.trackers = conn.NewTrackerMap()
	s.started = false
	s.log.Info().Msg("server stopped")
}

func (s *Server) releaseDrivers() {
	for _, drv := range s.bound {
		if err := drv.Close(); err != nil {
			s.log.Warn().Int("code", relaynet.CodeEngineStopFailed).Str("driver", drv.Name()).Err(err).Msg("driver close failed")
		}
	}
	s.bound = nil
}

// Serve drives Tick on a fixed cadence until ctx is done. Hosts with
// their own scheduler call Tick directly instead.
func (s *Server) Serve(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick advances the engine once: sweep stale send handles, drive the
// transports, reap dead connections, accept new ones, drain per-connection
// events and periodically expire quarantined UIDs. At most one Tick runs
// at a time; overlapping calls return immediately.
func (s *Server) Tick() {
	if !s.started {
		return
	}
	if !s.ticking.CompareAndSwap(false, true) {
		return
	}
	defer s.ticking.Store(false)

	s.sweepHandles()

	for _, drv := range s.bound {
		drv.ScheduleUpdate()
	}

	s.reapDead()
	s.acceptPending()
	s.flushDisconnects()
	s.drainEvents()
	s.flushDisconnects()

	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.lastSweep = now
		s.sweepTrackers(now)
	}

	observability.SetCurrentConnections(len(s.entries))
}

// reapDead walks the connection list in reverse and removes entries whose
// transport handle has been invalidated outside an explicit disconnect
// event.
func (s *Server) reapDead() {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !s.entries[i].conn.Alive() {
			s.removeEntry(i)
		}
	}
}

// acceptPending admits new connections up to the cap; the rest are
// disconnected immediately with a warning.
func (s *Server) acceptPending() {
	for _, drv := range s.bound {
		for {
			cn, ok := drv.Accept()
			if !ok {
				break
			}
			if len(s.entries) >= s.opts.MaxPlayers {
				s.log.Warn().
					Int("code", relaynet.CodeAcceptOverCap).
					Str("driver", drv.Name()).
					Str("remote", cn.RemoteAddr()).
					Msg("connection refused at cap")
				observability.CountRefused()
				drv.Disconnect(cn)
				continue
			}
			s.nextUID++
			uid := relaynet.UID(s.nextUID)
			s.entries = append(s.entries, &connEntry{uid: uid, conn: cn, drv: drv})
			s.trackers.Track(uid, cn)
			s.dir.Register(uid, 0, cn)
			observability.CountAccepted()
			s.log.Info().
				Uint64("uid", uint64(uid)).
				Str("driver", drv.Name()).
				Str("remote", cn.RemoteAddr()).
				Stringer("handle", cn.Handle()).
				Msg("client connected")
			for _, fn := range s.onConnected {
				fn(uid)
			}
		}
	}
}

// drainEvents processes all queued events connection by connection; all
// of connection A's events are handled before B's are popped. A
// disconnect outcome short-circuits the rest of that connection's drain.
func (s *Server) drainEvents() {
	entries := append([]*connEntry(nil), s.entries...)
	for _, e := range entries {
		if s.indexOf(e.uid) < 0 {
			continue // removed earlier this tick
		}
	drain:
		for {
			ev := e.drv.PopEvent(e.conn)
			switch ev.Kind {
			case relaynet.EventEmpty:
				break drain
			case relaynet.EventData:
				if s.receive(e.uid, ev.Reader) == OutcomeDisconnect {
					s.disconnectEntry(e)
					break drain
				}
			case relaynet.EventDisconnect:
				if i := s.indexOf(e.uid); i >= 0 {
					s.removeEntry(i)
				}
				break drain
			}
		}
	}
}

// flushDisconnects applies disconnects queued by send pipelines.
func (s *Server) flushDisconnects() {
	for _, uid := range s.disconnects {
		if i := s.indexOf(uid); i >= 0 {
			s.disconnectEntry(s.entries[i])
		}
	}
	s.disconnects = s.disconnects[:0]
}

// sweepTrackers expires quarantined UIDs. Expired trackers still holding
// a handle get an explicit disconnect; the rest are forgotten and their
// UIDs become referenceable no more.
func (s *Server) sweepTrackers(now time.Time) {
	removed, stale := s.trackers.Sweep(now)
	for _, uid := range removed {
		s.log.Debug().
			Int("code", relaynet.CodeConnectionExpired).
			Uint64("uid", uint64(uid)).
			Msg("uid quarantine expired")
	}
	for _, uid := range stale {
		if i := s.indexOf(uid); i >= 0 {
			s.disconnectEntry(s.entries[i])
		}
	}
}

func (s *Server) indexOf(uid relaynet.UID) int {
	for i, e := range s.entries {
		if e.uid == uid {
			return i
		}
	}
	return -1
}

// disconnectEntry force-closes the transport side, then removes the
// engine-side state.
func (s *Server) disconnectEntry(e *connEntry) {
	s.log.Info().
		Int("code", relaynet.CodeDisconnectForced).
		Uint64("uid", uint64(e.uid)).
		Msg("disconnecting client")
	e.drv.Disconnect(e.conn)
	if i := s.indexOf(e.uid); i >= 0 {
		s.removeEntry(i)
	}
}

// removeEntry emits ClientDisconnected, starts the UID quarantine and
// drops the record. Callbacks run before the record disappears so user
// code can still query it.
func (s *Server) removeEntry(i int) {
	e := s.entries[i]
	s.trackers.MarkDisconnected(e.uid, s.now())
	for _, fn := range s.onDisconnected {
		fn(e.uid)
	}
	s.dir.Remove(e.uid)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.log.Info().Uint64("uid", uint64(e.uid)).Msg("client disconnected")
}

func (s *Server) resolveUID(uid relaynet.UID) (relaynet.Conn, relaynet.Driver, bool) {
	if i := s.indexOf(uid); i >= 0 {
		e := s.entries[i]
		return e.conn, e.drv, true
	}
	return nil, nil, false
}

// BroadcastRaw sends an opaque payload to every connection in one call:
// begin-broadcast, copy payload, commit. Returns the delivered count.
func (s *Server) BroadcastRaw(key uint16, ch relaynet.Channel, md relaynet.Metadata, payload []byte) int {
	h := s.BeginBroadcast(key, ch, md)
	if !h.Writer().WriteBytes(payload) {
		return 0
	}
	return s.CommitMulticast(h)
}
