package crypto

import (
	"github.com/mosaicnetworks/ursula/src/crypto/keys"
)

// Signer produces signatures that others verify with its verifying key.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	VerifyingKey() []byte
}

// Decrypter opens boxes sealed for its encrypting key.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
	EncryptingKey() []byte
}

// Suite groups the public-key operations that need no secret: address
// derivation, signature verification and encryption towards a third party.
type Suite interface {
	DeriveAddress(verifyingKey []byte) (Address, error)
	Verify(data, signature, verifyingKey []byte) bool
	EncryptFor(encryptingKey, plaintext []byte) ([]byte, error)
}

// DefaultSuite implements Suite with secp256k1 signatures over Keccak256
// digests and X25519/XChaCha20-Poly1305 boxes.
type DefaultSuite struct{}

// DeriveAddress implements Suite.
func (DefaultSuite) DeriveAddress(verifyingKey []byte) (Address, error) {
	return DeriveAddress(verifyingKey)
}

// Verify implements Suite.
func (DefaultSuite) Verify(data, signature, verifyingKey []byte) bool {
	pub, err := keys.ToPublicKey(verifyingKey)
	if err != nil {
		return false
	}
	return keys.Verify(pub, Keccak256(data), signature)
}

// EncryptFor implements Suite.
func (DefaultSuite) EncryptFor(encryptingKey, plaintext []byte) ([]byte, error) {
	return Seal(encryptingKey, plaintext)
}
