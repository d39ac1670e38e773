package fleet

import (
	"fmt"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
)

// Reason explains why a record was refused as an identity claim.
type Reason uint8

const (
	// Malformed records are missing fields or exceed size bounds.
	Malformed Reason = iota
	// AddressMismatch records claim an address that is not derived from their
	// verifying key.
	AddressMismatch
	// BadSignature records do not carry a valid signature by their verifying
	// key.
	BadSignature
	// KeyCollision records present a different key for an address that is
	// already known.
	KeyCollision
)

// String returns the name of the reason.
func (r Reason) String() string {
	switch r {
	case Malformed:
		return "Malformed"
	case AddressMismatch:
		return "AddressMismatch"
	case BadSignature:
		return "BadSignature"
	case KeyCollision:
		return "KeyCollision"
	default:
		return "Unknown"
	}
}

// IdentityError is returned when a record fails verification. Offender is the
// address derived from the presented key when there is one, the claimed
// address otherwise. Attributable is set when the offender provably produced
// the record itself, by signing it. Otherwise the record may have been forged
// by whoever relayed it.
type IdentityError struct {
	Reason       Reason
	Offender     crypto.Address
	Attributable bool
	Record       *NodeMetadata
	detail       string
}

// Error implements the error interface.
func (e *IdentityError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("invalid identity %s: %s (%s)", e.Offender, e.Reason, e.detail)
	}
	return fmt.Sprintf("invalid identity %s: %s", e.Offender, e.Reason)
}

// Unwrap exposes the error as a common.ProtocolErr of type InvalidIdentity.
func (e *IdentityError) Unwrap() error {
	return common.NewProtocolErr(common.InvalidIdentity, "%s %s", e.Reason, e.Offender)
}
