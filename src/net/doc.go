// Package net implements the transports that carry requests between ursula
// nodes and their clients.
//
// The Transport interface exposes one call per request type: fetching the
// known nodes of a teacher, proposing an arrangement, storing and retrieving
// treasure maps, and revoking an arrangement. Incoming requests are delivered
// on the Consumer channel as RPC objects that the node answers with Respond.
//
// There are two implementations:
//
// - Inmem: in-memory transport used for testing and simulations. Transports
// are wired together explicitly with Connect and Disconnect, which makes it
// easy to simulate unreachable peers.
//
// - TCP: a NetworkTransport over plain TCP. Each request is framed by one byte
// indicating its type, followed by the msgpack encoded request. The response
// is an error string followed by the response object, both msgpack encoded.
//
// Every call takes a context and is also bounded by the transport's timeout.
// Failing to reach a peer yields a common.ProtocolErr of type Unreachable.
package net
