package policy

import (
	"context"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/staking"
	"github.com/sirupsen/logrus"
)

// Status is the outcome of a proposal.
type Status uint8

const (
	// Accepted means the proxy holds the key fragment.
	Accepted Status = iota
	// Rejected means the proxy refused, or was refused before being asked.
	Rejected
	// Unreachable means the proxy did not answer in time.
	Unreachable
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	case Unreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// Reasons for rejections decided before contacting the proxy.
const (
	ReasonIneligible = "ineligible"
	ReasonSuspect    = "suspect"
)

// ProposalOutcome is the result of Propose. Arrangement is set for every
// proposal that got an answer, and for proposals that timed out, since the
// proxy may hold the fragment anyway.
type ProposalOutcome struct {
	Status      Status
	Candidate   crypto.Address
	Arrangement *Arrangement
	Reason      string
	Err         error
}

// Negotiator proposes arrangements to proxies on behalf of an owner.
type Negotiator struct {
	trans       net.Transport
	suite       crypto.Suite
	signer      crypto.Signer
	eligibility staking.Eligibility
	ledger      *fleet.SuspicionLedger
	timeout     time.Duration
	logger      *logrus.Entry
}

// NewNegotiator creates a Negotiator. Candidates failing the eligibility
// predicate or flagged in the ledger are rejected without a network call.
func NewNegotiator(
	trans net.Transport,
	suite crypto.Suite,
	signer crypto.Signer,
	eligibility staking.Eligibility,
	ledger *fleet.SuspicionLedger,
	timeout time.Duration,
	logger *logrus.Entry,
) *Negotiator {
	if eligibility == nil {
		eligibility = staking.AllowAll
	}
	return &Negotiator{
		trans:       trans,
		suite:       suite,
		signer:      signer,
		eligibility: eligibility,
		ledger:      ledger,
		timeout:     timeout,
		logger:      logger,
	}
}

// Propose offers one key fragment of the policy to a candidate proxy. The
// fragment is sealed for the candidate's encrypting key and the proposal is
// signed by the owner.
func (n *Negotiator) Propose(ctx context.Context, candidate *fleet.NodeMetadata, policy *Policy, kfrag []byte) ProposalOutcome {
	out := ProposalOutcome{Candidate: candidate.Address}

	if !n.eligibility.IsEligible(candidate.Address) {
		out.Status, out.Reason = Rejected, ReasonIneligible
		return out
	}
	if n.ledger != nil && n.ledger.IsSuspect(candidate.Address) {
		out.Status, out.Reason = Rejected, ReasonSuspect
		return out
	}

	id, err := NewArrangementID()
	if err != nil {
		out.Status, out.Err = Rejected, err
		return out
	}

	sealed, err := n.suite.EncryptFor(candidate.EncryptingKey, kfrag)
	if err != nil {
		out.Status, out.Reason, out.Err = Rejected, "unusable encrypting key", err
		return out
	}

	req := &net.ArrangementRequest{
		HRAC:              policy.HRAC.Bytes(),
		ArrangementID:     id.Bytes(),
		Expiration:        policy.Expiration.UnixNano(),
		OwnerVerifyingKey: n.signer.VerifyingKey(),
		EncryptedKFrag:    sealed,
	}

	req.Signature, err = n.signer.Sign(ArrangementSignable(req))
	if err != nil {
		out.Status, out.Err = Rejected, err
		return out
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	arrangement := &Arrangement{
		HRAC:         policy.HRAC,
		ProxyAddress: candidate.Address,
		ID:           id,
		Expiration:   policy.Expiration,
	}

	var resp net.ArrangementResponse
	if err := n.trans.ProposeArrangement(ctx, candidate.NetAddr, req, &resp); err != nil {
		out.Status, out.Err = Unreachable, err
		if common.IsProtocol(err, common.Rejected) {
			out.Status, out.Reason = Rejected, err.Error()
		}
		// A proposal that timed out may still have been stored.
		if ctx.Err() != nil {
			out.Arrangement = arrangement
		}
		return out
	}

	arrangement.Accepted = resp.Accepted
	arrangement.Reason = resp.Reason
	out.Arrangement = arrangement

	if !resp.Accepted {
		out.Status, out.Reason = Rejected, resp.Reason
		return out
	}

	out.Status = Accepted

	n.logger.WithFields(logrus.Fields{
		"proxy":       candidate.Address.Hex(),
		"arrangement": id.Hex(),
	}).Debug("Arrangement accepted")

	return out
}
