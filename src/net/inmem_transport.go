package net

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport Implements the Transport interface, to allow ursula nodes to
// be tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    500 * time.Millisecond,
	}
	return addr, trans
}

// SetTimeout changes the time after which an unanswered request fails.
func (i *InmemTransport) SetTimeout(timeout time.Duration) {
	i.Lock()
	defer i.Unlock()
	i.timeout = timeout
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// GetKnownNodes implements the Transport interface.
func (i *InmemTransport) GetKnownNodes(ctx context.Context, target string, args *KnownNodesRequest, resp *KnownNodesResponse) error {
	rpcResp, err := i.makeRPC(ctx, target, args)
	if err != nil {
		return err
	}

	// Copy the result back
	out, ok := rpcResp.Response.(*KnownNodesResponse)
	if !ok {
		return unexpectedResponse(target, rpcResp.Response)
	}
	*resp = *out
	return nil
}

// ProposeArrangement implements the Transport interface.
func (i *InmemTransport) ProposeArrangement(ctx context.Context, target string, args *ArrangementRequest, resp *ArrangementResponse) error {
	rpcResp, err := i.makeRPC(ctx, target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*ArrangementResponse)
	if !ok {
		return unexpectedResponse(target, rpcResp.Response)
	}
	*resp = *out
	return nil
}

// PutTreasureMap implements the Transport interface.
func (i *InmemTransport) PutTreasureMap(ctx context.Context, target string, args *PutTreasureMapRequest, resp *PutTreasureMapResponse) error {
	rpcResp, err := i.makeRPC(ctx, target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*PutTreasureMapResponse)
	if !ok {
		return unexpectedResponse(target, rpcResp.Response)
	}
	*resp = *out
	return nil
}

// GetTreasureMap implements the Transport interface.
func (i *InmemTransport) GetTreasureMap(ctx context.Context, target string, args *GetTreasureMapRequest, resp *GetTreasureMapResponse) error {
	rpcResp, err := i.makeRPC(ctx, target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*GetTreasureMapResponse)
	if !ok {
		return unexpectedResponse(target, rpcResp.Response)
	}
	*resp = *out
	return nil
}

// Revoke implements the Transport interface.
func (i *InmemTransport) Revoke(ctx context.Context, target string, args *RevokeRequest, resp *RevokeResponse) error {
	rpcResp, err := i.makeRPC(ctx, target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*RevokeResponse)
	if !ok {
		return unexpectedResponse(target, rpcResp.Response)
	}
	*resp = *out
	return nil
}

func (i *InmemTransport) makeRPC(ctx context.Context, target string, args interface{}) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	timeout := i.timeout
	i.RUnlock()

	if !ok {
		err = common.NewProtocolErr(common.Unreachable, "failed to connect to peer: %v", target)
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{Command: args, RespChan: respCh}:
	case <-ctx.Done():
		err = common.NewProtocolErr(common.Unreachable, "%v: %v", target, ctx.Err())
		return
	case <-timer.C:
		err = common.NewProtocolErr(common.Unreachable, "%v: command timed out", target)
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-ctx.Done():
		err = common.NewProtocolErr(common.Unreachable, "%v: %v", target, ctx.Err())
	case <-timer.C:
		err = common.NewProtocolErr(common.Unreachable, "%v: command timed out", target)
	}
	return
}

func unexpectedResponse(target string, resp interface{}) error {
	return fmt.Errorf("unexpected response from %s: %T", target, resp)
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
