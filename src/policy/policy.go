package policy

import (
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
)

// MaxThreshold is the largest m a treasure map can encode.
const MaxThreshold = 255

// Policy describes the access of a recipient to a label, granted by an owner
// through m-of-n proxies.
type Policy struct {
	OwnerStamp             []byte
	RecipientStamp         []byte
	RecipientEncryptingKey []byte
	Label                  []byte
	M                      int
	N                      int
	Expiration             time.Time
	HRAC                   HRAC
}

// NewPolicy validates the parameters and derives the HRAC.
func NewPolicy(
	ownerStamp []byte,
	recipientStamp []byte,
	recipientEncryptingKey []byte,
	label []byte,
	m, n int,
	expiration time.Time,
	now time.Time,
) (*Policy, error) {

	switch {
	case m < 1:
		return nil, common.NewProtocolErr(common.InvalidArgument, "m must be at least 1, got %d", m)
	case m > n:
		return nil, common.NewProtocolErr(common.InvalidArgument, "m (%d) cannot exceed n (%d)", m, n)
	case m > MaxThreshold:
		return nil, common.NewProtocolErr(common.InvalidArgument, "m cannot exceed %d", MaxThreshold)
	case len(recipientEncryptingKey) != crypto.EncryptingKeySize:
		return nil, common.NewProtocolErr(common.InvalidArgument, "recipient encrypting key length %d", len(recipientEncryptingKey))
	case !expiration.After(now):
		return nil, common.NewProtocolErr(common.InvalidArgument, "expiration %v is in the past", expiration)
	}

	hrac, err := DeriveHRAC(ownerStamp, recipientStamp, label)
	if err != nil {
		return nil, err
	}

	return &Policy{
		OwnerStamp:             ownerStamp,
		RecipientStamp:         recipientStamp,
		RecipientEncryptingKey: recipientEncryptingKey,
		Label:                  label,
		M:                      m,
		N:                      n,
		Expiration:             expiration,
		HRAC:                   hrac,
	}, nil
}

// MapID returns the public id of the policy's treasure map.
func (p *Policy) MapID() []byte {
	return MapID(p.OwnerStamp, p.HRAC)
}
