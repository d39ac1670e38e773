package net

import "context"

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// GetKnownNodes, ProposeArrangement, PutTreasureMap, GetTreasureMap and
	// Revoke send the appropriate RPC to the target node.

	GetKnownNodes(ctx context.Context, target string, args *KnownNodesRequest, resp *KnownNodesResponse) error

	ProposeArrangement(ctx context.Context, target string, args *ArrangementRequest, resp *ArrangementResponse) error

	PutTreasureMap(ctx context.Context, target string, args *PutTreasureMapRequest, resp *PutTreasureMapResponse) error

	GetTreasureMap(ctx context.Context, target string, args *GetTreasureMapRequest, resp *GetTreasureMapResponse) error

	Revoke(ctx context.Context, target string, args *RevokeRequest, resp *RevokeResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
