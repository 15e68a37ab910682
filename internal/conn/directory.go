package conn

import (
	"sync"

	"github.com/luciancaetano/relaynet"
)

// Record ties a UID to its permission flags and transport handle. Conn is
// nil for the client's "self" record.
type Record struct {
	UID   relaynet.UID
	Flags *Flags
	Conn  relaynet.Conn
}

// Self reports whether the record addresses the local endpoint.
func (r *Record) Self() bool { return r.Conn == nil }

// Directory is the thread-safe UID -> record map. Writes happen on the
// tick goroutine only; reads may come from any goroutine holding a UID.
type Directory struct {
	mu   sync.RWMutex
	recs map[relaynet.UID]*Record
}

func NewDirectory() *Directory {
	return &Directory{recs: make(map[relaynet.UID]*Record)}
}

// Register adds a record for uid. Returns false if uid is already present.
func (d *Directory) Register(uid relaynet.UID, initialFlags uint16, c relaynet.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.recs[uid]; ok {
		return false
	}
	d.recs[uid] = &Record{UID: uid, Flags: NewFlags(initialFlags), Conn: c}
	return true
}

// Remove deletes uid's record. Returns false if absent.
func (d *Directory) Remove(uid relaynet.UID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.recs[uid]; !ok {
		return false
	}
	delete(d.recs, uid)
	return true
}

// Lookup returns uid's record.
func (d *Directory) Lookup(uid relaynet.UID) (*Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.recs[uid]
	return rec, ok
}

// Meets reports whether uid exists and its flags satisfy required.
func (d *Directory) Meets(uid relaynet.UID, required uint16) bool {
	rec, ok := d.Lookup(uid)
	return ok && rec.Flags.Meets(required)
}

// Len returns the current record count.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.recs)
}

// UIDs snapshots the registered UIDs, used by broadcast commit.
func (d *Directory) UIDs() []relaynet.UID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]relaynet.UID, 0, len(d.recs))
	for uid := range d.recs {
		out = append(out, uid)
	}
	return out
}
