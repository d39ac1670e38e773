// Package staking provides the eligibility predicates used to decide whether a
// node may be offered an arrangement.
package staking

import (
	"sync"

	"github.com/mosaicnetworks/ursula/src/crypto"
)

// Eligibility decides whether a node meets the minimum stake to take part in
// policies.
type Eligibility interface {
	IsEligible(addr crypto.Address) bool
}

// EligibilityFunc adapts a function to the Eligibility interface.
type EligibilityFunc func(addr crypto.Address) bool

// IsEligible implements the Eligibility interface.
func (f EligibilityFunc) IsEligible(addr crypto.Address) bool {
	return f(addr)
}

// AllowAll is the Eligibility of networks without staking.
var AllowAll = EligibilityFunc(func(crypto.Address) bool { return true })

// StakeTable is an in-memory ledger of stakes. A node is eligible when its
// stake reaches the minimum.
type StakeTable struct {
	sync.RWMutex
	stakes  map[crypto.Address]uint64
	minimum uint64
}

// NewStakeTable creates an empty StakeTable with the given minimum stake.
func NewStakeTable(minimum uint64) *StakeTable {
	return &StakeTable{
		stakes:  make(map[crypto.Address]uint64),
		minimum: minimum,
	}
}

// SetStake records the current stake of a node.
func (t *StakeTable) SetStake(addr crypto.Address, amount uint64) {
	t.Lock()
	defer t.Unlock()
	if amount == 0 {
		delete(t.stakes, addr)
		return
	}
	t.stakes[addr] = amount
}

// Stake returns the stake of a node, 0 if unknown.
func (t *StakeTable) Stake(addr crypto.Address) uint64 {
	t.RLock()
	defer t.RUnlock()
	return t.stakes[addr]
}

// IsEligible implements the Eligibility interface.
func (t *StakeTable) IsEligible(addr crypto.Address) bool {
	t.RLock()
	defer t.RUnlock()
	stake, ok := t.stakes[addr]
	return ok && stake >= t.minimum
}
