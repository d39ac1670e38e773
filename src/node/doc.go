// Package node implements an Ursula, the proxy side of the network.
//
// A Node serves the requests of the other nodes and of policy owners and
// recipients, as they arrive on its transport:
//
// Known nodes
//
// Learners ask each other for the nodes they know. The requester announces its
// own metadata and the checksum of its fleet. The node merges the announcement
// through its learner and answers with its fleet, or with only its own
// metadata when the checksums match.
//
// Arrangements
//
// An owner proposes to hold one key fragment of a policy. The node checks the
// owner's signature and the expiration, decrypts the fragment and stores it,
// unless it already holds MaxArrangements fragments. Retries of an accepted
// proposal are accepted again. The owner may later revoke the arrangement with
// a signed revocation, after which the fragment is deleted.
//
// Treasure maps
//
// Owners publish the encrypted treasure maps of their policies to some of the
// proxies. The node stores a map only if it carries a valid signature of its
// owner and is published under its public id. Recipients fetch maps by id.
//
// Inbound requests are rate limited, and served by at most state.WGLIMIT
// goroutines at a time.
package node
