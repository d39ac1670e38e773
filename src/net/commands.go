package net

import (
	"github.com/mosaicnetworks/ursula/src/fleet"
)

// KnownNodesRequest asks a teacher for the nodes it knows. The learner may
// announce its own record, and passes the checksum of its fleet so that a
// teacher with the same view can skip the node list.
type KnownNodesRequest struct {
	Announce *fleet.NodeMetadata
	Checksum []byte
}

// KnownNodesResponse carries the teacher's own record and a bounded list of
// the nodes it knows. Unchanged is set, and Nodes left empty, when the
// learner's checksum matched.
type KnownNodesResponse struct {
	Teacher   *fleet.NodeMetadata
	Checksum  []byte
	Unchanged bool
	Nodes     []*fleet.NodeMetadata
}

// ArrangementRequest proposes that the target holds one key fragment for a
// policy. The fragment is sealed for the target's encrypting key and the
// request is signed by the policy owner.
type ArrangementRequest struct {
	HRAC              []byte
	ArrangementID     []byte
	Expiration        int64
	OwnerVerifyingKey []byte
	EncryptedKFrag    []byte
	Signature         []byte
}

// ArrangementResponse is the target's decision. Reason explains a refusal.
type ArrangementResponse struct {
	Accepted bool
	Reason   string
}

// PutTreasureMapRequest asks the target to store a serialized treasure map
// under its public id.
type PutTreasureMapRequest struct {
	MapID       []byte
	TreasureMap []byte
}

// PutTreasureMapResponse tells whether the map was stored.
type PutTreasureMapResponse struct {
	Stored bool
	Reason string
}

// GetTreasureMapRequest looks up a treasure map by public id.
type GetTreasureMapRequest struct {
	MapID []byte
}

// GetTreasureMapResponse contains the serialized map when Found is set.
type GetTreasureMapResponse struct {
	Found       bool
	TreasureMap []byte
}

// RevokeRequest asks the target to delete the key fragment of an
// arrangement. The signature is by the policy owner.
type RevokeRequest struct {
	ArrangementID []byte
	Signature     []byte
}

// RevokeResponse tells whether the arrangement existed and was revoked.
type RevokeResponse struct {
	Found   bool
	Revoked bool
	Reason  string
}
