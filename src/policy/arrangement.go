package policy

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/net"
)

// ArrangementIDSize is the size of arrangement ids.
const ArrangementIDSize = 32

// ArrangementID identifies the arrangement of one proxy for one policy.
type ArrangementID [ArrangementIDSize]byte

// NewArrangementID draws a random ArrangementID.
func NewArrangementID() (ArrangementID, error) {
	var id ArrangementID
	_, err := rand.Read(id[:])
	return id, err
}

// Bytes returns a copy of the id as a slice.
func (id ArrangementID) Bytes() []byte {
	b := make([]byte, ArrangementIDSize)
	copy(b, id[:])
	return b
}

// Hex returns the hex representation of the id.
func (id ArrangementID) Hex() string {
	return common.EncodeToString(id[:])
}

// Arrangement records the answer of a proxy to a proposal. It is not modified
// once the answer is in.
type Arrangement struct {
	HRAC         HRAC
	ProxyAddress crypto.Address
	ID           ArrangementID
	Expiration   time.Time
	Accepted     bool
	Reason       string
}

// ArrangementSignable returns the bytes the owner signs in an
// ArrangementRequest. The proxy verifies the signature with the same bytes.
func ArrangementSignable(req *net.ArrangementRequest) []byte {
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(req.Expiration))

	return crypto.Keccak256(
		[]byte("ARRANGEMENT-"),
		req.HRAC,
		req.ArrangementID,
		exp[:],
		crypto.Keccak256(req.OwnerVerifyingKey),
		crypto.Keccak256(req.EncryptedKFrag),
	)
}

// VerifyArrangementRequest checks the shape and the owner signature of a
// proposal.
func VerifyArrangementRequest(suite crypto.Suite, req *net.ArrangementRequest, now time.Time) error {
	switch {
	case len(req.HRAC) != HRACSize:
		return common.NewProtocolErr(common.InvalidArgument, "hrac length %d", len(req.HRAC))
	case len(req.ArrangementID) != ArrangementIDSize:
		return common.NewProtocolErr(common.InvalidArgument, "arrangement id length %d", len(req.ArrangementID))
	case len(req.EncryptedKFrag) == 0:
		return common.NewProtocolErr(common.InvalidArgument, "missing kfrag")
	case req.Expiration <= now.UnixNano():
		return common.NewProtocolErr(common.InvalidArgument, "arrangement already expired")
	}

	if _, err := suite.DeriveAddress(req.OwnerVerifyingKey); err != nil {
		return common.NewProtocolErr(common.InvalidArgument, "owner key: %v", err)
	}

	if !suite.Verify(ArrangementSignable(req), req.Signature, req.OwnerVerifyingKey) {
		return common.NewProtocolErr(common.Rejected, "bad owner signature")
	}

	return nil
}

// Revocation asks a proxy to delete the key fragment of an arrangement. It is
// signed by the policy owner over "REVOKE-" || id.
type Revocation struct {
	ArrangementID []byte
	Signature     []byte
}

var revokePrefix = []byte("REVOKE-")

// RevocationSignable returns the bytes signed in a Revocation.
func RevocationSignable(id []byte) []byte {
	b := make([]byte, 0, len(revokePrefix)+len(id))
	b = append(b, revokePrefix...)
	return append(b, id...)
}

// NewRevocation signs a revocation of an arrangement.
func NewRevocation(signer crypto.Signer, id []byte) (*Revocation, error) {
	sig, err := signer.Sign(RevocationSignable(id))
	if err != nil {
		return nil, err
	}
	return &Revocation{ArrangementID: id, Signature: sig}, nil
}

// Verify checks the revocation against the verifying key of the owner.
func (r *Revocation) Verify(suite crypto.Suite, ownerVerifyingKey []byte) bool {
	return suite.Verify(RevocationSignable(r.ArrangementID), r.Signature, ownerVerifyingKey)
}
