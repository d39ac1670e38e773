package learner

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
)

// PeerSelector chooses the peers contacted in a round.
type PeerSelector interface {
	// Sample returns at most k of the candidates.
	Sample(candidates []*fleet.NodeMetadata, k int) []*fleet.NodeMetadata
	// UpdateLast records the peers of the last round.
	UpdateLast(peers []*fleet.NodeMetadata)
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

// RandomPeerSelector samples peers uniformly at random, avoiding the peers of
// the previous round when there are enough others.
type RandomPeerSelector struct {
	sync.Mutex
	rnd  *rand.Rand
	last map[crypto.Address]bool
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector
func NewRandomPeerSelector() *RandomPeerSelector {
	return &RandomPeerSelector{
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
		last: make(map[crypto.Address]bool),
	}
}

// UpdateLast implements the PeerSelector interface.
func (ps *RandomPeerSelector) UpdateLast(peers []*fleet.NodeMetadata) {
	ps.Lock()
	defer ps.Unlock()
	ps.last = make(map[crypto.Address]bool, len(peers))
	for _, p := range peers {
		ps.last[p.Address] = true
	}
}

// Sample implements the PeerSelector interface.
func (ps *RandomPeerSelector) Sample(candidates []*fleet.NodeMetadata, k int) []*fleet.NodeMetadata {
	ps.Lock()
	defer ps.Unlock()

	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	selectable := candidates
	if len(candidates) > k {
		fresh := fleet.ExcludeAddresses(candidates, func(a crypto.Address) bool {
			return ps.last[a]
		})
		if len(fresh) >= k {
			selectable = fresh
		}
	}

	shuffled := make([]*fleet.NodeMetadata, len(selectable))
	copy(shuffled, selectable)
	ps.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if len(shuffled) > k {
		shuffled = shuffled[:k]
	}
	return shuffled
}
