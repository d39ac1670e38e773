package fleet

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/crypto"
)

// Outcome is the result of applying a record to a State.
type Outcome uint8

const (
	// Applied means the record was new or newer and replaced the stored one.
	Applied Outcome = iota
	// Stale means the stored record is at least as recent. Nothing changed.
	Stale
	// Rejected means the record failed verification.
	Rejected
)

// String returns the name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case Stale:
		return "Stale"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

type entry struct {
	record  *NodeMetadata
	encoded []byte
}

// State is the registry of verified node records, keyed by address, with a
// checksum over its content. It is safe for concurrent use; Apply calls are
// serialized.
type State struct {
	sync.RWMutex

	suite crypto.Suite
	now   func() time.Time

	entries     map[crypto.Address]entry
	sorted      []*NodeMetadata
	checksum    []byte
	lastUpdated time.Time
}

// Snapshot is an immutable view of a State.
type Snapshot struct {
	Nodes       []*NodeMetadata
	Checksum    []byte
	LastUpdated time.Time
}

// NewState creates an empty State that verifies records with suite.
func NewState(suite crypto.Suite) *State {
	return &State{
		suite:    suite,
		now:      time.Now,
		entries:  make(map[crypto.Address]entry),
		checksum: crypto.Keccak256(),
	}
}

// Apply verifies a record and stores it if it is strictly newer than the one
// known for its address. Invalid records return Rejected and an
// *IdentityError; stale ones return Stale and no error.
func (s *State) Apply(md *NodeMetadata) (Outcome, error) {
	if md == nil {
		return Rejected, &IdentityError{Reason: Malformed, detail: "nil record"}
	}

	if err := md.Verify(s.suite); err != nil {
		return Rejected, err
	}

	encoded, err := md.Marshal()
	if err != nil {
		return Rejected, &IdentityError{Reason: Malformed, Offender: md.Address, Record: md, detail: err.Error()}
	}

	s.Lock()
	defer s.Unlock()

	if current, ok := s.entries[md.Address]; ok {
		if !bytes.Equal(current.record.VerifyingKey, md.VerifyingKey) {
			return Rejected, &IdentityError{Reason: KeyCollision, Offender: md.Address, Attributable: true, Record: md}
		}
		if md.Timestamp <= current.record.Timestamp {
			return Stale, nil
		}
	}

	s.entries[md.Address] = entry{record: md, encoded: encoded}
	s.rebuild()
	s.lastUpdated = s.now()

	return Applied, nil
}

// Remove evicts the record of an address. It returns false when the address is
// unknown, in which case nothing changes.
func (s *State) Remove(addr crypto.Address) bool {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.entries[addr]; !ok {
		return false
	}

	delete(s.entries, addr)
	s.rebuild()
	s.lastUpdated = s.now()

	return true
}

// rebuild refreshes the sorted view and the checksum. Callers hold the lock.
func (s *State) rebuild() {
	sorted := make([]*NodeMetadata, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e.record)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.Less(sorted[j].Address)
	})

	parts := make([][]byte, 0, len(sorted))
	for _, md := range sorted {
		parts = append(parts, s.entries[md.Address].encoded)
	}

	s.sorted = sorted
	s.checksum = crypto.Keccak256(parts...)
}

// Snapshot returns the current content sorted by address.
func (s *State) Snapshot() Snapshot {
	s.RLock()
	defer s.RUnlock()

	nodes := make([]*NodeMetadata, len(s.sorted))
	copy(nodes, s.sorted)

	checksum := make([]byte, len(s.checksum))
	copy(checksum, s.checksum)

	return Snapshot{
		Nodes:       nodes,
		Checksum:    checksum,
		LastUpdated: s.lastUpdated,
	}
}

// Addresses returns the known addresses in ascending order.
func (s *State) Addresses() []crypto.Address {
	s.RLock()
	defer s.RUnlock()

	res := make([]crypto.Address, len(s.sorted))
	for i, md := range s.sorted {
		res[i] = md.Address
	}
	return res
}

// Get returns the record known for an address.
func (s *State) Get(addr crypto.Address) (*NodeMetadata, bool) {
	s.RLock()
	defer s.RUnlock()

	e, ok := s.entries[addr]
	return e.record, ok
}

// Len returns the number of known nodes.
func (s *State) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.entries)
}

// Checksum returns the digest of the sorted records.
func (s *State) Checksum() []byte {
	s.RLock()
	defer s.RUnlock()

	checksum := make([]byte, len(s.checksum))
	copy(checksum, s.checksum)
	return checksum
}

// LastUpdated returns the time of the last replacement.
func (s *State) LastUpdated() time.Time {
	s.RLock()
	defer s.RUnlock()
	return s.lastUpdated
}
