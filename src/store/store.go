// Package store persists what an ursula node must remember across restarts:
// the node records it has learned, the key fragments it holds for policies,
// and the treasure maps published to it.
package store

import (
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
)

// Store is an interface for backend stores.
type Store interface {
	// SetNode inserts or replaces a node record.
	SetNode(md *fleet.NodeMetadata) error
	// GetNode returns a node record by address.
	GetNode(addr crypto.Address) (*fleet.NodeMetadata, error)
	// DeleteNode removes a node record. Unknown addresses are not an error.
	DeleteNode(addr crypto.Address) error
	// Nodes returns all the node records.
	Nodes() ([]*fleet.NodeMetadata, error)
	// SetArrangement stores an accepted arrangement. Arrangements are
	// immutable; storing an existing id fails with KeyAlreadyExists.
	SetArrangement(a *Arrangement) error
	// GetArrangement returns an arrangement by id.
	GetArrangement(id []byte) (*Arrangement, error)
	// DeleteArrangement removes an arrangement and its key fragment.
	DeleteArrangement(id []byte) error
	// ArrangementCount returns the number of arrangements held.
	ArrangementCount() int
	// SetTreasureMap stores a serialized treasure map under its public id.
	SetTreasureMap(id []byte, data []byte) error
	// GetTreasureMap returns a serialized treasure map by public id.
	GetTreasureMap(id []byte) ([]byte, error)
	// TreasureMapCount returns the number of treasure maps held.
	TreasureMapCount() int
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}
