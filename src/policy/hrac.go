package policy

import (
	"encoding/binary"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
)

// HRACSize is the size of an HRAC.
const HRACSize = crypto.DigestSize

// HRAC identifies a policy: the digest of the owner's stamp, the recipient's
// stamp, and the label.
type HRAC [HRACSize]byte

// DeriveHRAC computes keccak256(len(owner) || owner || len(recipient) ||
// recipient || label), each length a 4-byte big-endian prefix, so that no two
// distinct (owner, recipient) pairs share an input. The label may be empty,
// the stamps may not.
func DeriveHRAC(ownerStamp, recipientStamp, label []byte) (HRAC, error) {
	var h HRAC

	if len(ownerStamp) == 0 {
		return h, common.NewProtocolErr(common.InvalidArgument, "empty owner stamp")
	}
	if len(recipientStamp) == 0 {
		return h, common.NewProtocolErr(common.InvalidArgument, "empty recipient stamp")
	}

	copy(h[:], crypto.Keccak256(
		lengthPrefix(ownerStamp), ownerStamp,
		lengthPrefix(recipientStamp), recipientStamp,
		label,
	))

	return h, nil
}

func lengthPrefix(b []byte) []byte {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(b)))
	return prefix
}

// HRACFromBytes parses an HRAC.
func HRACFromBytes(b []byte) (HRAC, error) {
	var h HRAC
	if len(b) != HRACSize {
		return h, common.NewProtocolErr(common.InvalidArgument, "hrac length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns a copy of the HRAC as a slice.
func (h HRAC) Bytes() []byte {
	b := make([]byte, HRACSize)
	copy(b, h[:])
	return b
}

// Hex returns the hex representation of the HRAC.
func (h HRAC) Hex() string {
	return common.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h HRAC) String() string {
	return h.Hex()
}
