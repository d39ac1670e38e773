package policy

import (
	"context"
	"bytes"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/staking"
	"github.com/sirupsen/logrus"
)

// FleetView is what policy code needs from a learner: the fleet, the
// suspicion ledger, and eager rounds.
type FleetView interface {
	State() *fleet.State
	Ledger() *fleet.SuspicionLedger
	LearnRound(ctx context.Context) (learner.RoundReport, error)
}

// Default values of the grant parameters.
const (
	DefaultOverSampling      = 2.0
	DefaultParallelism       = 8
	DefaultReplicationFactor = 3
	DefaultProposalTimeout   = 3 * time.Second
	DefaultPublishTimeout    = 3 * time.Second
)

// GrantConfig contains the parameters of a Grantor.
type GrantConfig struct {
	// OverSampling is the ratio of candidates to n. The first
	// ceil(n*OverSampling) candidates of the pool are considered. 0 means the
	// whole pool.
	OverSampling float64

	// Parallelism is the number of proposals in flight.
	Parallelism int

	// ReplicationFactor is the number of accepting proxies the treasure map
	// is pushed to. 0 means all of them.
	ReplicationFactor int

	ProposalTimeout time.Duration
	PublishTimeout  time.Duration

	Logger *logrus.Entry
}

// DefaultGrantConfig returns a GrantConfig with the default values.
func DefaultGrantConfig() *GrantConfig {
	return &GrantConfig{
		OverSampling:      DefaultOverSampling,
		Parallelism:       DefaultParallelism,
		ReplicationFactor: DefaultReplicationFactor,
		ProposalTimeout:   DefaultProposalTimeout,
		PublishTimeout:    DefaultPublishTimeout,
	}
}

// GrantParams describes the policy to grant.
type GrantParams struct {
	RecipientStamp         []byte
	RecipientEncryptingKey []byte
	Label                  []byte
	M                      int
	N                      int
	Expiration             time.Time
}

// EnactedPolicy is a granted policy: its accepted arrangements and its
// published treasure map.
type EnactedPolicy struct {
	Policy       *Policy
	Arrangements []*Arrangement
	TreasureMap  *TreasureMap
	PublishedTo  []crypto.Address
	Proxies      map[crypto.Address]*fleet.NodeMetadata // accepting proxies
}

// Grantor grants policies on behalf of an owner.
type Grantor struct {
	conf        *GrantConfig
	view        FleetView
	trans       net.Transport
	suite       crypto.Suite
	signer      crypto.Signer
	eligibility staking.Eligibility
	kfrags      KFragGenerator
	negotiator  *Negotiator
	logger      *logrus.Entry
	now         func() time.Time
}

// NewGrantor creates a Grantor for the owner identified by signer.
func NewGrantor(
	conf *GrantConfig,
	view FleetView,
	trans net.Transport,
	suite crypto.Suite,
	signer crypto.Signer,
	eligibility staking.Eligibility,
	kfrags KFragGenerator,
) *Grantor {

	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	if eligibility == nil {
		eligibility = staking.AllowAll
	}

	return &Grantor{
		conf:        conf,
		view:        view,
		trans:       trans,
		suite:       suite,
		signer:      signer,
		eligibility: eligibility,
		kfrags:      kfrags,
		negotiator:  NewNegotiator(trans, suite, signer, eligibility, view.Ledger(), conf.ProposalTimeout, logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Grant creates a policy, negotiates arrangements with up to n proxies and
// publishes the treasure map. It fails with InsufficientArrangements, and
// publishes nothing, when fewer than m proxies accept.
func (g *Grantor) Grant(ctx context.Context, params GrantParams) (*EnactedPolicy, error) {
	policy, err := NewPolicy(
		g.signer.VerifyingKey(),
		params.RecipientStamp,
		params.RecipientEncryptingKey,
		params.Label,
		params.M,
		params.N,
		params.Expiration,
		g.now(),
	)
	if err != nil {
		return nil, err
	}

	logger := g.logger.WithField("hrac", policy.HRAC.Hex())

	pool := g.candidates(policy)
	if len(pool) < policy.M {
		return nil, common.NewProtocolErr(common.InsufficientArrangements,
			"%d candidates for a threshold of %d", len(pool), policy.M)
	}

	kfrags, err := g.kfrags.Generate(policy, len(pool))
	if err != nil {
		return nil, err
	}

	accepted, orphans := g.negotiate(ctx, policy, pool, kfrags, logger)
	defer func() {
		if len(orphans) > 0 {
			g.withdraw(pool, orphans, logger)
		}
	}()

	if len(accepted) < policy.M {
		orphans = append(orphans, accepted...)
		return nil, common.NewProtocolErr(common.InsufficientArrangements,
			"%d of %d accepted, threshold is %d", len(accepted), policy.N, policy.M)
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].ProxyAddress.Less(accepted[j].ProxyAddress)
	})

	destinations := make([]Destination, len(accepted))
	for i, a := range accepted {
		destinations[i] = Destination{ProxyAddress: a.ProxyAddress, ArrangementID: a.ID}
	}

	tm, err := BuildTreasureMap(g.signer, g.suite, policy, destinations)
	if err != nil {
		orphans = append(orphans, accepted...)
		return nil, err
	}

	proxies := make(map[crypto.Address]*fleet.NodeMetadata, len(accepted))
	for _, c := range pool {
		for _, a := range accepted {
			if a.ProxyAddress == c.Address {
				proxies[c.Address] = c
			}
		}
	}

	enacted := &EnactedPolicy{
		Policy:       policy,
		Arrangements: accepted,
		TreasureMap:  tm,
		Proxies:      proxies,
	}

	if err := g.publish(ctx, enacted); err != nil {
		orphans = append(orphans, accepted...)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"m":         policy.M,
		"n":         policy.N,
		"accepted":  len(accepted),
		"published": len(enacted.PublishedTo),
	}).Info("Policy granted")

	return enacted, nil
}

// candidates returns the eligible, unsuspected nodes of the fleet other than
// the owner, ranked by a digest of the HRAC and their address, cut to the
// over-sampling size.
func (g *Grantor) candidates(policy *Policy) []*fleet.NodeMetadata {
	self, _ := g.suite.DeriveAddress(g.signer.VerifyingKey())
	ledger := g.view.Ledger()

	// The snapshot is sorted by address.
	snapshot := g.view.State().Snapshot()
	pool := fleet.ExcludeAddresses(snapshot.Nodes, func(a crypto.Address) bool {
		return a == self || ledger.IsSuspect(a) || !g.eligibility.IsEligible(a)
	})

	// Rank by keccak256(HRAC || address): keyed by the whole HRAC, and the
	// same ranking for anyone holding it.
	ranks := make(map[crypto.Address][]byte, len(pool))
	for _, c := range pool {
		ranks[c.Address] = crypto.Keccak256(policy.HRAC[:], c.Address[:])
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return bytes.Compare(ranks[pool[i].Address], ranks[pool[j].Address]) < 0
	})

	if g.conf.OverSampling > 0 {
		size := int(math.Ceil(float64(policy.N) * g.conf.OverSampling))
		if size < policy.N {
			size = policy.N
		}
		if size < len(pool) {
			pool = pool[:size]
		}
	}

	return pool
}

// negotiate proposes to the candidates in order until n are accepted or the
// candidates run out. At most Parallelism proposals are in flight, and never
// more than the acceptances still missing; each failure frees a slot for the
// next candidate. It also returns the orphans: arrangements a proxy may hold
// but that are not part of the policy, because their proposal timed out.
func (g *Grantor) negotiate(ctx context.Context, policy *Policy, pool []*fleet.NodeMetadata, kfrags [][]byte, logger *logrus.Entry) ([]*Arrangement, []*Arrangement) {
	parallelism := g.conf.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	results := make(chan ProposalOutcome, len(pool))
	accepted := []*Arrangement{}
	orphans := []*Arrangement{}
	next, inflight := 0, 0
	rejected, unreachable := 0, 0

	for {
		for inflight < parallelism && next < len(pool) && len(accepted)+inflight < policy.N && ctx.Err() == nil {
			go func(c *fleet.NodeMetadata, kfrag []byte) {
				results <- g.negotiator.Propose(ctx, c, policy, kfrag)
			}(pool[next], kfrags[next])
			next++
			inflight++
		}

		if inflight == 0 {
			break
		}

		out := <-results
		inflight--

		switch out.Status {
		case Accepted:
			if len(accepted) >= policy.N {
				orphans = append(orphans, out.Arrangement)
				continue
			}
			accepted = append(accepted, out.Arrangement)
		case Rejected:
			rejected++
			logger.WithFields(logrus.Fields{
				"proxy":  out.Candidate.Hex(),
				"reason": out.Reason,
			}).Debug("Arrangement rejected")
		case Unreachable:
			unreachable++
			if out.Arrangement != nil {
				orphans = append(orphans, out.Arrangement)
			}
			logger.WithFields(logrus.Fields{
				"proxy": out.Candidate.Hex(),
				"error": out.Err,
			}).Debug("Proxy unreachable")
		}
	}

	logger.WithFields(logrus.Fields{
		"candidates":  len(pool),
		"proposed":    next,
		"accepted":    len(accepted),
		"rejected":    rejected,
		"unreachable": unreachable,
		"orphans":     len(orphans),
	}).Debug("Negotiation complete")

	return accepted, orphans
}

// withdraw revokes arrangements that are not part of an enacted policy. It is
// best effort and does not depend on the context of the grant, which may
// already be cancelled.
func (g *Grantor) withdraw(pool []*fleet.NodeMetadata, arrangements []*Arrangement, logger *logrus.Entry) {
	proxies := make(map[crypto.Address]*fleet.NodeMetadata, len(pool))
	for _, c := range pool {
		proxies[c.Address] = c
	}

	failures := g.revokeAll(context.Background(), arrangements, proxies)

	logger.WithFields(logrus.Fields{
		"arrangements": len(arrangements),
		"failures":     len(failures),
	}).Debug("Withdrew arrangements")
}

// publish pushes the treasure map to the first ReplicationFactor accepting
// proxies. At least one of them must store it.
func (g *Grantor) publish(ctx context.Context, enacted *EnactedPolicy) error {
	data, err := enacted.TreasureMap.Marshal()
	if err != nil {
		return err
	}

	targets := enacted.Arrangements
	if rf := g.conf.ReplicationFactor; rf > 0 && rf < len(targets) {
		targets = targets[:rf]
	}

	args := &net.PutTreasureMapRequest{
		MapID:       enacted.TreasureMap.ID(),
		TreasureMap: data,
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published []crypto.Address
	)

	for _, a := range targets {
		proxy := enacted.Proxies[a.ProxyAddress]
		wg.Add(1)
		go func(proxy *fleet.NodeMetadata) {
			defer wg.Done()

			pctx := ctx
			if g.conf.PublishTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, g.conf.PublishTimeout)
				defer cancel()
			}

			var resp net.PutTreasureMapResponse
			err := g.trans.PutTreasureMap(pctx, proxy.NetAddr, args, &resp)
			if err != nil || !resp.Stored {
				g.logger.WithFields(logrus.Fields{
					"proxy":  proxy.Address.Hex(),
					"error":  err,
					"reason": resp.Reason,
				}).Warn("Failed to publish treasure map")
				return
			}

			mu.Lock()
			published = append(published, proxy.Address)
			mu.Unlock()
		}(proxy)
	}

	wg.Wait()

	if len(published) == 0 {
		return common.NewProtocolErr(common.Unreachable, "no proxy stored the treasure map")
	}

	sort.Slice(published, func(i, j int) bool { return published[i].Less(published[j]) })
	enacted.PublishedTo = published

	return nil
}

// Revoke asks every accepting proxy to delete its key fragment. It returns the
// proxies that failed to revoke. Proxies that no longer hold the arrangement
// are not failures.
func (g *Grantor) Revoke(ctx context.Context, enacted *EnactedPolicy) map[crypto.Address]error {
	return g.revokeAll(ctx, enacted.Arrangements, enacted.Proxies)
}

func (g *Grantor) revokeAll(ctx context.Context, arrangements []*Arrangement, proxies map[crypto.Address]*fleet.NodeMetadata) map[crypto.Address]error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures = make(map[crypto.Address]error)
	)

	fail := func(addr crypto.Address, err error) {
		mu.Lock()
		failures[addr] = err
		mu.Unlock()
	}

	for _, a := range arrangements {
		proxy, ok := proxies[a.ProxyAddress]
		if !ok {
			fail(a.ProxyAddress, common.NewProtocolErr(common.Unreachable, "unknown proxy"))
			continue
		}

		revocation, err := NewRevocation(g.signer, a.ID.Bytes())
		if err != nil {
			fail(a.ProxyAddress, err)
			continue
		}

		wg.Add(1)
		go func(proxy *fleet.NodeMetadata, revocation *Revocation) {
			defer wg.Done()

			rctx := ctx
			if g.conf.ProposalTimeout > 0 {
				var cancel context.CancelFunc
				rctx, cancel = context.WithTimeout(ctx, g.conf.ProposalTimeout)
				defer cancel()
			}

			var resp net.RevokeResponse
			err := g.trans.Revoke(rctx, proxy.NetAddr, &net.RevokeRequest{
				ArrangementID: revocation.ArrangementID,
				Signature:     revocation.Signature,
			}, &resp)

			switch {
			case err != nil:
				fail(proxy.Address, err)
			case !resp.Found:
				// nothing left to revoke
			case !resp.Revoked:
				fail(proxy.Address, common.NewProtocolErr(common.Rejected, "%s", resp.Reason))
			}
		}(proxy, revocation)
	}

	wg.Wait()

	return failures
}
