// Package character composes the roles of the network from what a participant
// can do: sign, learn about the fleet, and teach it to others.
package character

import (
	"context"

	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
)

// Signs is implemented by participants with a signing key. The stamp is the
// verifying key by which others know them.
type Signs interface {
	Stamp() []byte
	Address() crypto.Address
	Sign(data []byte) ([]byte, error)
}

// Learns is implemented by participants that maintain a view of the fleet.
type Learns interface {
	LearnRound(ctx context.Context) (learner.RoundReport, error)
	LearnFromTeacher(ctx context.Context, netAddr string) (learner.RoundReport, error)
	Remember(md *fleet.NodeMetadata) (learner.Result, error)
	State() *fleet.State
	Ledger() *fleet.SuspicionLedger
}

// Teaches is implemented by participants that answer other learners.
type Teaches interface {
	Self() *fleet.NodeMetadata
	Serve(req *net.KnownNodesRequest) *net.KnownNodesResponse
}

// Card is what a participant hands out so that policies can be granted to it.
type Card struct {
	Stamp         []byte
	EncryptingKey []byte
}

// Character is a participant with keys and a learner. It implements Signs and
// Learns.
type Character struct {
	*learner.Learner

	power *crypto.Power
	suite crypto.Suite
}

// NewCharacter creates a Character. The learner must belong to the address of
// power.
func NewCharacter(power *crypto.Power, suite crypto.Suite, l *learner.Learner) *Character {
	return &Character{
		Learner: l,
		power:   power,
		suite:   suite,
	}
}

// Stamp returns the verifying key of the character.
func (c *Character) Stamp() []byte {
	return c.power.VerifyingKey()
}

// Address returns the address of the character.
func (c *Character) Address() crypto.Address {
	return c.power.Address()
}

// Sign signs data with the character's key.
func (c *Character) Sign(data []byte) ([]byte, error) {
	return c.power.Sign(data)
}

// Card returns the public keys to grant policies to the character.
func (c *Character) Card() Card {
	return Card{
		Stamp:         c.power.VerifyingKey(),
		EncryptingKey: c.power.EncryptingKey(),
	}
}
