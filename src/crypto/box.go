package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// EncryptingKeySize is the size of X25519 public and private keys.
const EncryptingKeySize = curve25519.ScalarSize

var boxContext = []byte("ursula-box-v1")

// EncryptingKeyFromSeed derives an X25519 key-pair from secret seed material.
func EncryptingKeyFromSeed(seed []byte) (priv []byte, pub []byte, err error) {
	priv = Keccak256([]byte("ursula-encrypting-key"), seed)

	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	return priv, pub, nil
}

// Seal encrypts plaintext so that only the owner of the private half of
// recipientPub can read it. The output is
// ephemeral public key || nonce || XChaCha20-Poly1305 ciphertext.
func Seal(recipientPub []byte, plaintext []byte) ([]byte, error) {
	if len(recipientPub) != EncryptingKeySize {
		return nil, fmt.Errorf("encrypting key must be %d bytes, got %d", EncryptingKeySize, len(recipientPub))
	}

	ephPriv := make([]byte, EncryptingKeySize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, err
	}

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	aead, err := boxCipher(ephPriv, recipientPub, ephPub, recipientPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, ephPub)

	return out, nil
}

// Open decrypts the output of Seal with the recipient's private key.
func Open(priv []byte, box []byte) ([]byte, error) {
	if len(priv) != EncryptingKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", EncryptingKeySize)
	}

	header := EncryptingKeySize + chacha20poly1305.NonceSizeX
	if len(box) < header+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(box))
	}

	ephPub := box[:EncryptingKeySize]
	nonce := box[EncryptingKeySize:header]

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	aead, err := boxCipher(priv, ephPub, ephPub, pub)
	if err != nil {
		return nil, err
	}

	return aead.Open(nil, nonce, box[header:], ephPub)
}

// boxCipher runs X25519 between priv and peer and binds the resulting key to
// both public keys of the exchange.
func boxCipher(priv, peer, ephPub, recipientPub []byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return nil, err
	}

	key := Keccak256(boxContext, shared, ephPub, recipientPub)

	return chacha20poly1305.NewX(key)
}
