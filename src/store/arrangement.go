package store

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// Arrangement is the proxy side of an accepted arrangement: the key fragment
// held for a policy and the owner key that may revoke it.
type Arrangement struct {
	ID                []byte
	HRAC              []byte
	OwnerVerifyingKey []byte
	KFrag             []byte
	Expiration        int64
}

// Expired reports whether the arrangement has expired at the given time.
func (a *Arrangement) Expired(now time.Time) bool {
	return a.Expiration <= now.UnixNano()
}

// Marshal returns the msgpack encoding of the arrangement.
func (a *Arrangement) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, &codec.MsgpackHandle{})
	if err := enc.Encode(a); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal parses a msgpack encoded arrangement.
func (a *Arrangement) Unmarshal(data []byte) error {
	dec := codec.NewDecoderBytes(data, &codec.MsgpackHandle{})
	return dec.Decode(a)
}
