package learner

import "sync/atomic"

// Phase is the step of the current round: Idle, Sampling, Requesting,
// Merging, or Shutdown.
type Phase uint32

const (
	// Idle is the phase between rounds.
	Idle Phase = iota
	// Sampling is the phase in which peers are chosen.
	Sampling
	// Requesting is the phase in which peers are asked for their nodes.
	Requesting
	// Merging is the phase in which answers are merged into the fleet.
	Merging
	// Shutdown is the phase of a stopped learner. No more rounds run.
	Shutdown
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Sampling:
		return "Sampling"
	case Requesting:
		return "Requesting"
	case Merging:
		return "Merging"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

func (l *Learner) getPhase() Phase {
	return Phase(atomic.LoadUint32((*uint32)(&l.phase)))
}

func (l *Learner) setPhase(p Phase) {
	atomic.StoreUint32((*uint32)(&l.phase), uint32(p))
}
