package policy

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/sirupsen/logrus"
)

// Default values of the resolver parameters.
const (
	DefaultQueryTimeout = 2 * time.Second
	DefaultMapCacheSize = 256
)

// Resolver finds the treasure maps of the policies granted to a recipient.
type Resolver struct {
	view      FleetView
	trans     net.Transport
	suite     crypto.Suite
	stamp     []byte
	decrypter crypto.Decrypter
	timeout   time.Duration
	cache     *lru.Cache
	logger    *logrus.Entry
}

// NewResolver creates a Resolver for the recipient with the given stamp
// (verifying key) and Decrypter.
func NewResolver(
	view FleetView,
	trans net.Transport,
	suite crypto.Suite,
	stamp []byte,
	decrypter crypto.Decrypter,
	timeout time.Duration,
	logger *logrus.Entry,
) (*Resolver, error) {

	cache, err := lru.New(DefaultMapCacheSize)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Resolver{
		view:      view,
		trans:     trans,
		suite:     suite,
		stamp:     stamp,
		decrypter: decrypter,
		timeout:   timeout,
		cache:     cache,
		logger:    logger,
	}, nil
}

// Resolve retrieves and opens the treasure map of the policy granted by the
// owner for the label. It fails with NotEnoughTeachers, before any network
// call, when no node is known, and with NotFound when no peer returns a valid
// map. The first valid map wins.
func (r *Resolver) Resolve(ctx context.Context, ownerStamp []byte, label []byte) (*TreasureMap, error) {
	hrac, err := DeriveHRAC(ownerStamp, r.stamp, label)
	if err != nil {
		return nil, err
	}

	id := MapID(ownerStamp, hrac)
	key := string(id)

	if tm, ok := r.cache.Get(key); ok {
		return tm.(*TreasureMap), nil
	}

	if r.view.State().Len() == 0 {
		return nil, common.NewProtocolErr(common.NotEnoughTeachers, "no known node to ask for map %X", id)
	}

	if _, err := r.view.LearnRound(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, common.NewProtocolErr(common.Unreachable, "%v", ctx.Err())
		}
		r.logger.WithError(err).Debug("Learning round before resolving")
	}

	ledger := r.view.Ledger()
	peers := fleet.ExcludeAddresses(r.view.State().Snapshot().Nodes, ledger.IsSuspect)
	rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})

	for _, p := range peers {
		if ctx.Err() != nil {
			return nil, common.NewProtocolErr(common.Unreachable, "%v", ctx.Err())
		}

		tm, err := r.query(ctx, p, id)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"peer":  p.Address.Hex(),
				"error": err,
			}).Debug("No map from peer")
			continue
		}

		if err := r.check(tm, ownerStamp, hrac); err != nil {
			r.logger.WithFields(logrus.Fields{
				"peer":  p.Address.Hex(),
				"error": err,
			}).Warn("Invalid treasure map")
			continue
		}

		r.cache.Add(key, tm)

		return tm, nil
	}

	return nil, common.NewProtocolErr(common.NotFound, "treasure map %X", id)
}

func (r *Resolver) query(ctx context.Context, peer *fleet.NodeMetadata, id []byte) (*TreasureMap, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var resp net.GetTreasureMapResponse
	if err := r.trans.GetTreasureMap(ctx, peer.NetAddr, &net.GetTreasureMapRequest{MapID: id}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, common.NewProtocolErr(common.NotFound, "map not held")
	}

	tm := new(TreasureMap)
	if err := tm.Unmarshal(resp.TreasureMap); err != nil {
		return nil, err
	}
	return tm, nil
}

// check verifies that the map is the one of the policy and opens it.
func (r *Resolver) check(tm *TreasureMap, ownerStamp []byte, hrac HRAC) error {
	if !bytes.Equal(tm.OwnerVerifyingKey, ownerStamp) {
		return common.NewProtocolErr(common.Rejected, "map is not from the owner")
	}
	if !bytes.Equal(tm.HRAC, hrac[:]) {
		return common.NewProtocolErr(common.Rejected, "map is for another policy")
	}
	_, err := tm.Open(r.suite, r.decrypter)
	return err
}
