package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
)

// SignatureSize is the length of an encoded signature.
const SignatureSize = 64

// Sign signs a digest with the private key. The S value is normalized to the
// lower half of the curve order.
func Sign(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, err
	}

	if s.Cmp(secp256k1halfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	return EncodeSignature(r, s), nil
}

// Verify reports whether sig is a valid signature of digest by the owner of
// pub. Malformed signatures are simply invalid.
func Verify(pub *ecdsa.PublicKey, digest []byte, sig []byte) bool {
	r, s, err := DecodeSignature(sig)
	if err != nil {
		return false
	}
	return ecdsa.Verify(pub, digest, r, s)
}

// EncodeSignature returns the fixed-size encoding of a signature.
func EncodeSignature(r, s *big.Int) []byte {
	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, paddedBigBytes(r, SignatureSize/2)...)
	sig = append(sig, paddedBigBytes(s, SignatureSize/2)...)
	return sig
}

// DecodeSignature parses the output of EncodeSignature.
func DecodeSignature(sig []byte) (r, s *big.Int, err error) {
	if len(sig) != SignatureSize {
		return nil, nil, fmt.Errorf("wrong signature length: got %d, want %d", len(sig), SignatureSize)
	}
	r = new(big.Int).SetBytes(sig[:SignatureSize/2])
	s = new(big.Int).SetBytes(sig[SignatureSize/2:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, nil, fmt.Errorf("zero signature value")
	}
	return r, s, nil
}
