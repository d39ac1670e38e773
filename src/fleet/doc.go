// Package fleet holds what a node knows about the other nodes of the network.
//
// Every node describes itself with a NodeMetadata record: its address, its
// verifying and encrypting keys, the network address where it can be reached,
// and a timestamp, all covered by its own signature. The address is derived
// from the verifying key, so a record is self-certifying: anyone can check it
// without trusting whoever relayed it.
//
// State is the registry of valid records, keyed by address. A record replaces
// the one already known for its address only if it is strictly newer, which
// makes merging commutative and idempotent: nodes that exchange records in any
// order converge to the same State and the same checksum.
//
// Records that fail verification never enter the State. Their offender is
// written to the SuspicionLedger, an append-only quarantine that the learner
// and the policy code consult before talking to a node.
//
// JSONTeachers reads the seed network addresses that a node contacts first,
// from a teachers.json file in its data directory.
package fleet
