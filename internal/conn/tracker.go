package conn

import (
	"time"

	"github.com/luciancaetano/relaynet"
)

// QuarantineWindow is how long a UID stays reserved after its connection
// disconnects. Late references to the UID resolve cleanly until the sweep
// removes the tracker, and the UID is never reissued while tracked.
const QuarantineWindow = 5 * time.Minute

// Tracker quarantines one UID. Conn is cleared on disconnect; ExpiresAt is
// only meaningful once Conn is nil.
type Tracker struct {
	UID       relaynet.UID
	Conn      relaynet.Conn
	ExpiresAt time.Time
}

// TrackerMap holds one tracker per UID the server has ever issued and not
// yet expired. Tick-goroutine only.
type TrackerMap struct {
	trackers map[relaynet.UID]*Tracker
}

func NewTrackerMap() *TrackerMap {
	return &TrackerMap{trackers: make(map[relaynet.UID]*Tracker)}
}

// Track registers a freshly accepted connection.
func (m *TrackerMap) Track(uid relaynet.UID, c relaynet.Conn) {
	m.trackers[uid] = &Tracker{UID: uid, Conn: c}
}

// MarkDisconnected clears the transport handle and starts the quarantine
// clock.
func (m *TrackerMap) MarkDisconnected(uid relaynet.UID, now time.Time) {
	t, ok := m.trackers[uid]
	if !ok {
		return
	}
	t.Conn = nil
	t.ExpiresAt = now.Add(QuarantineWindow)
}

// Lookup returns the tracker for uid.
func (m *TrackerMap) Lookup(uid relaynet.UID) (*Tracker, bool) {
	t, ok := m.trackers[uid]
	return t, ok
}

// Len returns the tracked UID count.
func (m *TrackerMap) Len() int { return len(m.trackers) }

// Sweep walks the expired trackers. Entries whose handle is already gone
// are removed; entries still holding a handle are returned so the engine
// can disconnect them explicitly before the next sweep reaps them.
func (m *TrackerMap) Sweep(now time.Time) (removed, stale []relaynet.UID) {
	for uid, t := range m.trackers {
		if t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt) {
			continue
		}
		if t.Conn != nil {
			stale = append(stale, uid)
			continue
		}
		delete(m.trackers, uid)
		removed = append(removed, uid)
	}
	return removed, stale
}
