package fleet

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/crypto"
)

// Evidence is what was observed when an address was flagged.
type Evidence struct {
	Address    crypto.Address
	Record     *NodeMetadata
	Reason     Reason
	ObservedAt time.Time
}

// SuspicionLedger is an append-only set of quarantined addresses. The first
// evidence recorded for an address is kept; nothing is ever removed.
type SuspicionLedger struct {
	sync.RWMutex

	entries map[crypto.Address]Evidence
	order   []crypto.Address
}

// NewSuspicionLedger creates an empty ledger.
func NewSuspicionLedger() *SuspicionLedger {
	return &SuspicionLedger{
		entries: make(map[crypto.Address]Evidence),
	}
}

// Record flags ev.Address. It reports whether the address was new to the
// ledger.
func (l *SuspicionLedger) Record(ev Evidence) bool {
	l.Lock()
	defer l.Unlock()

	if _, ok := l.entries[ev.Address]; ok {
		return false
	}

	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}

	l.entries[ev.Address] = ev
	l.order = append(l.order, ev.Address)

	return true
}

// IsSuspect reports whether addr was flagged.
func (l *SuspicionLedger) IsSuspect(addr crypto.Address) bool {
	l.RLock()
	defer l.RUnlock()

	_, ok := l.entries[addr]
	return ok
}

// Evidence returns the evidence recorded against addr.
func (l *SuspicionLedger) Evidence(addr crypto.Address) (Evidence, bool) {
	l.RLock()
	defer l.RUnlock()

	ev, ok := l.entries[addr]
	return ev, ok
}

// Entries returns all evidence in the order it was recorded.
func (l *SuspicionLedger) Entries() []Evidence {
	l.RLock()
	defer l.RUnlock()

	res := make([]Evidence, len(l.order))
	for i, addr := range l.order {
		res[i] = l.entries[addr]
	}
	return res
}

// Len returns the number of flagged addresses.
func (l *SuspicionLedger) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.order)
}
