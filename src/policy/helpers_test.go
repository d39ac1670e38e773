package policy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/stretchr/testify/require"
)

var suite = crypto.DefaultSuite{}

func newPower(t *testing.T) *crypto.Power {
	power, err := crypto.GeneratePower()
	require.NoError(t, err)
	return power
}

// fakeView is a FleetView over a fixed fleet that counts eager rounds.
type fakeView struct {
	state  *fleet.State
	ledger *fleet.SuspicionLedger
	rounds int32
}

func newFakeView(t *testing.T, records ...*fleet.NodeMetadata) *fakeView {
	v := &fakeView{
		state:  fleet.NewState(suite),
		ledger: fleet.NewSuspicionLedger(),
	}
	for _, md := range records {
		outcome, err := v.state.Apply(md)
		require.NoError(t, err)
		require.Equal(t, fleet.Applied, outcome)
	}
	return v
}

func (v *fakeView) State() *fleet.State            { return v.state }
func (v *fakeView) Ledger() *fleet.SuspicionLedger { return v.ledger }

func (v *fakeView) LearnRound(ctx context.Context) (learner.RoundReport, error) {
	atomic.AddInt32(&v.rounds, 1)
	return learner.RoundReport{}, nil
}

// countingTransport counts the outgoing calls of a transport.
type countingTransport struct {
	*net.InmemTransport
	calls int32
}

func (c *countingTransport) GetKnownNodes(ctx context.Context, target string, args *net.KnownNodesRequest, resp *net.KnownNodesResponse) error {
	atomic.AddInt32(&c.calls, 1)
	return c.InmemTransport.GetKnownNodes(ctx, target, args, resp)
}

func (c *countingTransport) GetTreasureMap(ctx context.Context, target string, args *net.GetTreasureMapRequest, resp *net.GetTreasureMapResponse) error {
	atomic.AddInt32(&c.calls, 1)
	return c.InmemTransport.GetTreasureMap(ctx, target, args, resp)
}

// fakeProxy is a minimal proxy: it verifies and keeps arrangements, treasure
// maps and revocations, and can be told to refuse every proposal.
type fakeProxy struct {
	power  *crypto.Power
	record *fleet.NodeMetadata
	trans  *net.InmemTransport
	refuse bool

	mu           sync.Mutex
	arrangements map[string]*net.ArrangementRequest
	kfrags       map[string][]byte
	maps         map[string][]byte
	proposals    int
}

func newFakeProxy(t *testing.T, refuse bool) *fakeProxy {
	power := newPower(t)
	addr, trans := net.NewInmemTransport("")

	md, err := fleet.NewNodeMetadata(power.VerifyingKey(), power.EncryptingKey(), addr, "proxy", time.Now())
	require.NoError(t, err)
	require.NoError(t, md.Sign(power))

	p := &fakeProxy{
		power:        power,
		record:       md,
		trans:        trans,
		refuse:       refuse,
		arrangements: make(map[string]*net.ArrangementRequest),
		kfrags:       make(map[string][]byte),
		maps:         make(map[string][]byte),
	}

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case rpc := <-trans.Consumer():
				rpc.Respond(p.handle(rpc.Command))
			case <-done:
				return
			}
		}
	}()

	return p
}

// newUnreachableProxy returns the record of a proxy nobody can reach.
func newUnreachableProxy(t *testing.T) *fleet.NodeMetadata {
	power := newPower(t)
	md, err := fleet.NewNodeMetadata(power.VerifyingKey(), power.EncryptingKey(), "unreachable", "proxy", time.Now())
	require.NoError(t, err)
	require.NoError(t, md.Sign(power))
	return md
}

func (p *fakeProxy) handle(cmd interface{}) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd := cmd.(type) {
	case *net.KnownNodesRequest:
		return &net.KnownNodesResponse{Teacher: p.record, Unchanged: true}, nil
	case *net.ArrangementRequest:
		p.proposals++
		if p.refuse {
			return &net.ArrangementResponse{Reason: "capacity"}, nil
		}
		if err := VerifyArrangementRequest(suite, cmd, time.Now()); err != nil {
			return &net.ArrangementResponse{Reason: err.Error()}, nil
		}
		kfrag, err := p.power.Decrypt(cmd.EncryptedKFrag)
		if err != nil {
			return &net.ArrangementResponse{Reason: err.Error()}, nil
		}
		p.arrangements[string(cmd.ArrangementID)] = cmd
		p.kfrags[string(cmd.ArrangementID)] = kfrag
		return &net.ArrangementResponse{Accepted: true}, nil
	case *net.PutTreasureMapRequest:
		tm := new(TreasureMap)
		if err := tm.Unmarshal(cmd.TreasureMap); err != nil {
			return &net.PutTreasureMapResponse{Reason: err.Error()}, nil
		}
		if err := tm.VerifyPublic(suite); err != nil {
			return &net.PutTreasureMapResponse{Reason: err.Error()}, nil
		}
		p.maps[string(cmd.MapID)] = cmd.TreasureMap
		return &net.PutTreasureMapResponse{Stored: true}, nil
	case *net.GetTreasureMapRequest:
		data, ok := p.maps[string(cmd.MapID)]
		return &net.GetTreasureMapResponse{Found: ok, TreasureMap: data}, nil
	case *net.RevokeRequest:
		a, ok := p.arrangements[string(cmd.ArrangementID)]
		if !ok {
			return &net.RevokeResponse{}, nil
		}
		r := &Revocation{ArrangementID: cmd.ArrangementID, Signature: cmd.Signature}
		if !r.Verify(suite, a.OwnerVerifyingKey) {
			return &net.RevokeResponse{Found: true, Reason: "bad signature"}, nil
		}
		delete(p.arrangements, string(cmd.ArrangementID))
		delete(p.kfrags, string(cmd.ArrangementID))
		return &net.RevokeResponse{Found: true, Revoked: true}, nil
	default:
		return nil, fmt.Errorf("unexpected command %T", cmd)
	}
}

func (p *fakeProxy) proposalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proposals
}

func (p *fakeProxy) mapCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.maps)
}

func (p *fakeProxy) kfragCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.kfrags)
}

func (p *fakeProxy) holds(id ArrangementID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.kfrags[string(id[:])]
	return ok
}

// testNetwork is an owner and a set of proxies it can reach.
type testNetwork struct {
	alice   *crypto.Power
	trans   *net.InmemTransport
	proxies []*fakeProxy
	view    *fakeView
}

func newTestNetwork(t *testing.T, accepting, refusing int, extra ...*fleet.NodeMetadata) *testNetwork {
	_, trans := net.NewInmemTransport("")

	var proxies []*fakeProxy
	var records []*fleet.NodeMetadata
	for i := 0; i < accepting+refusing; i++ {
		p := newFakeProxy(t, i >= accepting)
		trans.Connect(p.trans.LocalAddr(), p.trans)
		proxies = append(proxies, p)
		records = append(records, p.record)
	}
	records = append(records, extra...)

	return &testNetwork{
		alice:   newPower(t),
		trans:   trans,
		proxies: proxies,
		view:    newFakeView(t, records...),
	}
}

func (n *testNetwork) proxy(addr crypto.Address) *fakeProxy {
	for _, p := range n.proxies {
		if p.record.Address == addr {
			return p
		}
	}
	return nil
}

func testGrantConfig(t *testing.T) *GrantConfig {
	conf := DefaultGrantConfig()
	conf.ProposalTimeout = 200 * time.Millisecond
	conf.PublishTimeout = 200 * time.Millisecond
	conf.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return conf
}

func (n *testNetwork) grantor(conf *GrantConfig) *Grantor {
	return NewGrantor(conf, n.view, n.trans, suite, n.alice, nil, OpaqueKFragGenerator{})
}

func grantParams(bob *crypto.Power, label string, m, size int) GrantParams {
	return GrantParams{
		RecipientStamp:         bob.VerifyingKey(),
		RecipientEncryptingKey: bob.EncryptingKey(),
		Label:                  []byte(label),
		M:                      m,
		N:                      size,
		Expiration:             time.Now().Add(time.Hour),
	}
}
