package character

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/mosaicnetworks/ursula/src/staking"
)

// Alice is a data owner. She grants policies over her labels and revokes them.
type Alice struct {
	*Character

	grantor *policy.Grantor

	activeLock sync.Mutex
	active     map[policy.HRAC]*policy.EnactedPolicy
}

// NewAlice creates an Alice over a learner and a transport.
func NewAlice(
	conf *policy.GrantConfig,
	power *crypto.Power,
	suite crypto.Suite,
	l *learner.Learner,
	trans net.Transport,
	eligibility staking.Eligibility,
	kfrags policy.KFragGenerator,
) *Alice {

	return &Alice{
		Character: NewCharacter(power, suite, l),
		grantor:   policy.NewGrantor(conf, l, trans, suite, power, eligibility, kfrags),
		active:    make(map[policy.HRAC]*policy.EnactedPolicy),
	}
}

// Grant grants a policy and keeps it among the active ones.
func (a *Alice) Grant(ctx context.Context, params policy.GrantParams) (*policy.EnactedPolicy, error) {
	enacted, err := a.grantor.Grant(ctx, params)
	if err != nil {
		return nil, err
	}

	a.activeLock.Lock()
	a.active[enacted.Policy.HRAC] = enacted
	a.activeLock.Unlock()

	return enacted, nil
}

// GrantTo grants the holder of card access to label through m of n proxies.
func (a *Alice) GrantTo(ctx context.Context, card Card, label []byte, m, n int, expiration time.Time) (*policy.EnactedPolicy, error) {
	return a.Grant(ctx, policy.GrantParams{
		RecipientStamp:         card.Stamp,
		RecipientEncryptingKey: card.EncryptingKey,
		Label:                  label,
		M:                      m,
		N:                      n,
		Expiration:             expiration,
	})
}

// Revoke asks the proxies of an active policy to delete their key fragments.
// The policy is forgotten when at most n-m+1 proxies failed to revoke. The
// failures are returned either way.
func (a *Alice) Revoke(ctx context.Context, hrac policy.HRAC) (map[crypto.Address]error, error) {
	enacted, ok := a.Policy(hrac)
	if !ok {
		return nil, common.NewProtocolErr(common.NotFound, "no active policy %s", hrac.Hex())
	}

	failures := a.grantor.Revoke(ctx, enacted)

	p := enacted.Policy
	if len(failures) <= p.N-p.M+1 {
		a.activeLock.Lock()
		delete(a.active, hrac)
		a.activeLock.Unlock()
	}

	return failures, nil
}

// Policy returns an active policy.
func (a *Alice) Policy(hrac policy.HRAC) (*policy.EnactedPolicy, bool) {
	a.activeLock.Lock()
	defer a.activeLock.Unlock()
	enacted, ok := a.active[hrac]
	return enacted, ok
}

// ActivePolicies returns the active policies ordered by HRAC.
func (a *Alice) ActivePolicies() []*policy.EnactedPolicy {
	a.activeLock.Lock()
	defer a.activeLock.Unlock()

	res := make([]*policy.EnactedPolicy, 0, len(a.active))
	for _, e := range a.active {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Policy.HRAC.Hex() < res[j].Policy.HRAC.Hex()
	})
	return res
}
