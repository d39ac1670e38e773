package crypto

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/ursula/src/crypto/keys"
)

// Power holds the secret keys of a character: the secp256k1 signing key and
// the X25519 decrypting key derived from it. It implements Signer and
// Decrypter.
type Power struct {
	signingKey    *ecdsa.PrivateKey
	verifyingKey  []byte
	decryptingKey []byte
	encryptingKey []byte
	address       Address
}

// NewPower derives a Power from a signing key.
func NewPower(key *ecdsa.PrivateKey) (*Power, error) {
	decrypting, encrypting, err := EncryptingKeyFromSeed(keys.DumpPrivateKey(key))
	if err != nil {
		return nil, err
	}

	verifying := keys.FromPublicKey(&key.PublicKey)

	address, err := DeriveAddress(verifying)
	if err != nil {
		return nil, err
	}

	return &Power{
		signingKey:    key,
		verifyingKey:  verifying,
		decryptingKey: decrypting,
		encryptingKey: encrypting,
		address:       address,
	}, nil
}

// GeneratePower creates a Power from a fresh signing key.
func GeneratePower() (*Power, error) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	return NewPower(key)
}

// Sign implements Signer. The data is hashed with Keccak256 first.
func (p *Power) Sign(data []byte) ([]byte, error) {
	return keys.Sign(p.signingKey, Keccak256(data))
}

// VerifyingKey implements Signer.
func (p *Power) VerifyingKey() []byte {
	return p.verifyingKey
}

// Decrypt implements Decrypter.
func (p *Power) Decrypt(ciphertext []byte) ([]byte, error) {
	return Open(p.decryptingKey, ciphertext)
}

// EncryptingKey implements Decrypter.
func (p *Power) EncryptingKey() []byte {
	return p.encryptingKey
}

// Address returns the address derived from the verifying key.
func (p *Power) Address() Address {
	return p.address
}

// SigningKey exposes the underlying private key, for persistence.
func (p *Power) SigningKey() *ecdsa.PrivateKey {
	return p.signingKey
}
