package fleet

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/ugorji/go/codec"
)

// Bounds applied to records received from the network.
const (
	MaxNetAddrLength = 256
	MaxMonikerLength = 64
	maxKeyLength     = 65
	maxRecordSize    = 1024
)

// NodeMetadata describes one node of the network. It is immutable once signed;
// a node that changes its interface signs a new record with a newer timestamp.
type NodeMetadata struct {
	Address       crypto.Address
	VerifyingKey  []byte
	EncryptingKey []byte
	NetAddr       string
	Moniker       string
	Timestamp     int64
	Signature     []byte
}

// metadataBody is the part of a NodeMetadata covered by the signature.
type metadataBody struct {
	_struct       bool `codec:",toarray"`
	Address       []byte
	VerifyingKey  []byte
	EncryptingKey []byte
	NetAddr       string
	Moniker       string
	Timestamp     int64
}

func msgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.Canonical = true
	h.WriteExt = true
	h.MaxInitLen = maxRecordSize
	return h
}

// NewNodeMetadata creates an unsigned record for the owner of verifyingKey.
func NewNodeMetadata(verifyingKey, encryptingKey []byte, netAddr, moniker string, timestamp time.Time) (*NodeMetadata, error) {
	address, err := crypto.DeriveAddress(verifyingKey)
	if err != nil {
		return nil, err
	}

	return &NodeMetadata{
		Address:       address,
		VerifyingKey:  verifyingKey,
		EncryptingKey: encryptingKey,
		NetAddr:       netAddr,
		Moniker:       moniker,
		Timestamp:     timestamp.UnixNano(),
	}, nil
}

// SignableBytes returns the canonical encoding of every field but the
// signature.
func (md *NodeMetadata) SignableBytes() ([]byte, error) {
	body := metadataBody{
		Address:       md.Address[:],
		VerifyingKey:  md.VerifyingKey,
		EncryptingKey: md.EncryptingKey,
		NetAddr:       md.NetAddr,
		Moniker:       md.Moniker,
		Timestamp:     md.Timestamp,
	}

	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle())
	if err := enc.Encode(body); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Sign signs the record. The signer must own the record's verifying key.
func (md *NodeMetadata) Sign(signer crypto.Signer) error {
	if !bytes.Equal(signer.VerifyingKey(), md.VerifyingKey) {
		return fmt.Errorf("signer does not own this record")
	}

	signable, err := md.SignableBytes()
	if err != nil {
		return err
	}

	sig, err := signer.Sign(signable)
	if err != nil {
		return err
	}

	md.Signature = sig

	return nil
}

// Verify checks the shape of the record, that its address is derived from its
// verifying key, and its signature. On failure it returns an *IdentityError.
func (md *NodeMetadata) Verify(suite crypto.Suite) error {
	if err := md.checkBounds(); err != nil {
		return &IdentityError{Reason: Malformed, Offender: md.Address, Record: md, detail: err.Error()}
	}

	derived, err := suite.DeriveAddress(md.VerifyingKey)
	if err != nil {
		return &IdentityError{Reason: Malformed, Offender: md.Address, Record: md, detail: err.Error()}
	}

	signable, err := md.SignableBytes()
	if err != nil {
		return &IdentityError{Reason: Malformed, Offender: derived, Record: md, detail: err.Error()}
	}

	signed := suite.Verify(signable, md.Signature, md.VerifyingKey)

	// A self-signed claim on another node's address is the only forgery that
	// can be pinned on the key holder.
	if derived != md.Address {
		return &IdentityError{Reason: AddressMismatch, Offender: derived, Attributable: signed, Record: md}
	}

	if !signed {
		return &IdentityError{Reason: BadSignature, Offender: derived, Record: md}
	}

	return nil
}

func (md *NodeMetadata) checkBounds() error {
	switch {
	case len(md.VerifyingKey) == 0 || len(md.VerifyingKey) > maxKeyLength:
		return fmt.Errorf("verifying key length %d", len(md.VerifyingKey))
	case len(md.EncryptingKey) != crypto.EncryptingKeySize:
		return fmt.Errorf("encrypting key length %d", len(md.EncryptingKey))
	case len(md.NetAddr) > MaxNetAddrLength:
		return fmt.Errorf("net address too long")
	case len(md.Moniker) > MaxMonikerLength:
		return fmt.Errorf("moniker too long")
	case len(md.Signature) == 0:
		return fmt.Errorf("unsigned record")
	}
	return nil
}

// Marshal returns the canonical encoding of the whole record.
func (md *NodeMetadata) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle())
	if err := enc.Encode(md); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes the output of Marshal. It returns an error, never panics,
// on malformed input.
func (md *NodeMetadata) Unmarshal(data []byte) error {
	if len(data) > maxRecordSize {
		return fmt.Errorf("record too large: %d bytes", len(data))
	}
	dec := codec.NewDecoderBytes(data, msgpackHandle())
	return dec.Decode(md)
}

// Hash returns the Keccak256 digest of the marshalled record.
func (md *NodeMetadata) Hash() ([]byte, error) {
	b, err := md.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(b), nil
}

// Time returns the timestamp of the record.
func (md *NodeMetadata) Time() time.Time {
	return time.Unix(0, md.Timestamp)
}

// ExcludeAddresses returns the records whose address is not in the excluded
// set.
func ExcludeAddresses(nodes []*NodeMetadata, excluded func(crypto.Address) bool) []*NodeMetadata {
	others := make([]*NodeMetadata, 0, len(nodes))
	for _, n := range nodes {
		if !excluded(n.Address) {
			others = append(others, n)
		}
	}
	return others
}
