package policy

import (
	"bytes"
	"fmt"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

const (
	destinationSize = crypto.AddressLength + ArrangementIDSize

	// MaxTreasureMapSize bounds the encoding of maps accepted from the
	// network.
	MaxTreasureMapSize = 64 * 1024
)

// MapID returns the public id under which the treasure map of a policy is
// published: keccak256(owner verifying key || hrac).
func MapID(ownerVerifyingKey []byte, hrac HRAC) []byte {
	return crypto.Keccak256(ownerVerifyingKey, hrac[:])
}

// Destination points to the arrangement of one proxy.
type Destination struct {
	ProxyAddress  crypto.Address
	ArrangementID ArrangementID
}

// MapPayload is the decrypted content of a treasure map.
type MapPayload struct {
	M            int
	Destinations []Destination
}

// TreasureMap tells the recipient of a policy which proxies hold its key
// fragments. The destinations are encrypted for the recipient. The public
// signature lets anyone check that the owner published the map.
type TreasureMap struct {
	HRAC              []byte
	OwnerVerifyingKey []byte
	Ciphertext        []byte
	PublicSignature   []byte

	payload *MapPayload
}

func publicSignable(ownerVerifyingKey, hrac, ciphertext []byte) []byte {
	return crypto.Keccak256(ownerVerifyingKey, hrac, crypto.Keccak256(ciphertext))
}

// encodePayload serializes m followed by the (address, arrangement id)
// records.
func encodePayload(p *MapPayload) []byte {
	b := make([]byte, 0, 1+len(p.Destinations)*destinationSize)
	b = append(b, byte(p.M))
	for _, d := range p.Destinations {
		b = append(b, d.ProxyAddress[:]...)
		b = append(b, d.ArrangementID[:]...)
	}
	return b
}

func decodePayload(b []byte) (*MapPayload, error) {
	if len(b) < 1 || (len(b)-1)%destinationSize != 0 {
		return nil, fmt.Errorf("payload length %d", len(b))
	}

	p := &MapPayload{M: int(b[0])}
	for rest := b[1:]; len(rest) > 0; rest = rest[destinationSize:] {
		var d Destination
		copy(d.ProxyAddress[:], rest[:crypto.AddressLength])
		copy(d.ArrangementID[:], rest[crypto.AddressLength:destinationSize])
		p.Destinations = append(p.Destinations, d)
	}

	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

// check verifies that 1 <= m <= len(destinations) and that no proxy appears
// twice.
func (p *MapPayload) check() error {
	if p.M < 1 || p.M > MaxThreshold || p.M > len(p.Destinations) {
		return fmt.Errorf("threshold %d for %d destinations", p.M, len(p.Destinations))
	}
	seen := make(map[crypto.Address]bool, len(p.Destinations))
	for _, d := range p.Destinations {
		if seen[d.ProxyAddress] {
			return fmt.Errorf("duplicate destination %s", d.ProxyAddress)
		}
		seen[d.ProxyAddress] = true
	}
	return nil
}

// BuildTreasureMap encrypts the destinations of a policy for its recipient
// and signs the result.
func BuildTreasureMap(signer crypto.Signer, suite crypto.Suite, policy *Policy, destinations []Destination) (*TreasureMap, error) {
	payload := &MapPayload{M: policy.M, Destinations: destinations}
	if err := payload.check(); err != nil {
		return nil, common.NewProtocolErr(common.InvalidArgument, "%v", err)
	}

	body := encodePayload(payload)

	inner, err := signer.Sign(body)
	if err != nil {
		return nil, err
	}

	ciphertext, err := suite.EncryptFor(policy.RecipientEncryptingKey, append(body, inner...))
	if err != nil {
		return nil, err
	}

	ownerKey := signer.VerifyingKey()
	hrac := policy.HRAC.Bytes()

	sig, err := signer.Sign(publicSignable(ownerKey, hrac, ciphertext))
	if err != nil {
		return nil, err
	}

	return &TreasureMap{
		HRAC:              hrac,
		OwnerVerifyingKey: ownerKey,
		Ciphertext:        ciphertext,
		PublicSignature:   sig,
		payload:           payload,
	}, nil
}

// ID returns the public id of the map.
func (tm *TreasureMap) ID() []byte {
	var hrac HRAC
	copy(hrac[:], tm.HRAC)
	return MapID(tm.OwnerVerifyingKey, hrac)
}

// VerifyPublic checks what anyone can check: the shape of the map and the
// owner's signature over the encrypted payload.
func (tm *TreasureMap) VerifyPublic(suite crypto.Suite) error {
	switch {
	case len(tm.HRAC) != HRACSize:
		return common.NewProtocolErr(common.InvalidArgument, "hrac length %d", len(tm.HRAC))
	case len(tm.Ciphertext) == 0:
		return common.NewProtocolErr(common.InvalidArgument, "empty map")
	}

	if _, err := suite.DeriveAddress(tm.OwnerVerifyingKey); err != nil {
		return common.NewProtocolErr(common.InvalidArgument, "owner key: %v", err)
	}

	if !suite.Verify(publicSignable(tm.OwnerVerifyingKey, tm.HRAC, tm.Ciphertext), tm.PublicSignature, tm.OwnerVerifyingKey) {
		return common.NewProtocolErr(common.Rejected, "bad public signature")
	}

	return nil
}

// Open verifies the map, decrypts it with the recipient's Decrypter and checks
// the owner's signature on the content.
func (tm *TreasureMap) Open(suite crypto.Suite, decrypter crypto.Decrypter) (*MapPayload, error) {
	if err := tm.VerifyPublic(suite); err != nil {
		return nil, err
	}

	plaintext, err := decrypter.Decrypt(tm.Ciphertext)
	if err != nil {
		return nil, common.NewProtocolErr(common.Rejected, "decrypting map: %v", err)
	}

	if len(plaintext) < 1+keys.SignatureSize {
		return nil, common.NewProtocolErr(common.Rejected, "map content too short")
	}

	split := len(plaintext) - keys.SignatureSize
	body, inner := plaintext[:split], plaintext[split:]

	if !suite.Verify(body, inner, tm.OwnerVerifyingKey) {
		return nil, common.NewProtocolErr(common.Rejected, "bad content signature")
	}

	payload, err := decodePayload(body)
	if err != nil {
		return nil, common.NewProtocolErr(common.Rejected, "%v", err)
	}

	tm.payload = payload

	return payload, nil
}

// Payload returns the decrypted content of the map, nil if the map was neither
// built nor opened locally.
func (tm *TreasureMap) Payload() *MapPayload {
	return tm.payload
}

// Marshal returns the msgpack encoding of the public part of the map.
func (tm *TreasureMap) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, &codec.MsgpackHandle{})
	if err := enc.Encode(tm); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal parses a map encoded by Marshal. Malformed input returns an
// error.
func (tm *TreasureMap) Unmarshal(data []byte) error {
	if len(data) > MaxTreasureMapSize {
		return common.NewProtocolErr(common.InvalidArgument, "map too large: %d bytes", len(data))
	}
	h := &codec.MsgpackHandle{}
	h.MaxInitLen = MaxTreasureMapSize
	dec := codec.NewDecoderBytes(data, h)
	return dec.Decode(tm)
}
