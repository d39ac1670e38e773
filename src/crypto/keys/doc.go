// Package keys implements the signing keys of ursula nodes and their clients.
//
// Every character, whether it owns data, receives access or operates a proxy,
// owns an ECDSA key-pair on the secp256k1 curve. The public key (verifying key)
// is what other nodes use to check records and treasure maps signed with the
// private key, and the node's address is derived from it.
//
// Signatures are 64 bytes: the big-endian R and S values, each padded to 32
// bytes.
package keys
