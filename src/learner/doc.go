// Package learner implements the gossip protocol through which a node
// discovers the network.
//
// A Learner owns the fleet.State of its process. Each round it samples a few
// known peers, excluding itself and quarantined addresses, asks each of them
// for the nodes they know, and merges the answers. Peer requests run
// concurrently, bounded by MaxConcurrency, and their results fan in over a
// channel to the single goroutine that merges them.
//
// Every record goes through Learn: records from quarantined addresses and
// records seen recently are dropped without verification, the others are
// applied to the fleet.State. Records that fail verification put the
// responsible address in the fleet.SuspicionLedger. A self-signed forgery is
// blamed on its signer; a record that is not validly signed is blamed on the
// peer that relayed it, since any relay could have produced it.
//
// Peers that do not answer in time are skipped for the round. Unreachability
// is never a reason for suspicion.
//
// LearnRound runs one round and blocks until it completes (eager mode). Start
// runs rounds in the background on a randomized timer until Stop.
package learner
