package crypto

import (
	"bytes"
	"fmt"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto/keys"
)

// AddressLength is the number of bytes in an Address.
const AddressLength = 20

// Address identifies a node. It is the tail of the Keccak256 digest of the
// node's uncompressed verifying key, without the 0x04 prefix.
type Address [AddressLength]byte

// DeriveAddress computes the address that belongs to a serialized verifying
// key. It fails if the key is not a valid secp256k1 point.
func DeriveAddress(verifyingKey []byte) (Address, error) {
	var a Address

	pub, err := keys.ToPublicKey(verifyingKey)
	if err != nil {
		return a, err
	}

	raw := keys.FromPublicKey(pub)
	digest := Keccak256(raw[1:])
	copy(a[:], digest[DigestSize-AddressLength:])

	return a, nil
}

// AddressFromBytes copies b into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes the output of Address.Hex.
func ParseAddress(s string) (Address, error) {
	b, err := common.DecodeFromString(s)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(b)
}

// Bytes returns a copy of the address as a slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

// Hex returns the 0X-prefixed uppercase hex form.
func (a Address) Hex() string {
	return common.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// Less orders addresses bytewise.
func (a Address) Less(b Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}
