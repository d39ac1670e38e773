package character

import (
	"context"
	"time"

	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/sirupsen/logrus"
)

// Bob is the recipient of policies. He finds the treasure maps that tell him
// which proxies hold the fragments granted to him.
type Bob struct {
	*Character

	resolver *policy.Resolver
}

// NewBob creates a Bob over a learner and a transport.
func NewBob(
	power *crypto.Power,
	suite crypto.Suite,
	l *learner.Learner,
	trans net.Transport,
	timeout time.Duration,
	logger *logrus.Entry,
) (*Bob, error) {

	resolver, err := policy.NewResolver(l, trans, suite, power.VerifyingKey(), power, timeout, logger)
	if err != nil {
		return nil, err
	}

	return &Bob{
		Character: NewCharacter(power, suite, l),
		resolver:  resolver,
	}, nil
}

// Resolve retrieves and opens the treasure map of the policy granted to Bob by
// the owner for the label.
func (b *Bob) Resolve(ctx context.Context, ownerStamp []byte, label []byte) (*policy.TreasureMap, error) {
	return b.resolver.Resolve(ctx, ownerStamp, label)
}

// Destinations returns the threshold and the arrangements of a granted policy.
func (b *Bob) Destinations(ctx context.Context, ownerStamp []byte, label []byte) (int, []policy.Destination, error) {
	tm, err := b.Resolve(ctx, ownerStamp, label)
	if err != nil {
		return 0, nil, err
	}
	payload := tm.Payload()
	return payload.M, payload.Destinations, nil
}
