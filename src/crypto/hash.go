package crypto

import (
	"golang.org/x/crypto/sha3"
)

// DigestSize is the length of a Keccak256 digest.
const DigestSize = 32

// Keccak256 returns the legacy Keccak-256 digest of the concatenation of the
// given byte slices. It is the digest used for addresses, access codes, map
// identifiers and fleet checksums.
func Keccak256(data ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	return hasher.Sum(nil)
}
