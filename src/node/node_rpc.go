package node

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/mosaicnetworks/ursula/src/store"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Reasons given to owners whose proposals are refused.
const (
	ReasonCapacity  = "capacity"
	ReasonDuplicate = "duplicate arrangement id"
	ReasonKFrag     = "undecryptable kfrag"
	ReasonStorage   = "storage failure"
)

func (n *Node) processRPC(rpc net.RPC) {
	atomic.AddUint64(&n.rpcCount, 1)

	if n.limiter != nil && !n.limiter.Allow() {
		n.reject(rpc, "rate limited")
		return
	}

	switch cmd := rpc.Command.(type) {
	case *net.KnownNodesRequest:
		n.processKnownNodesRequest(rpc, cmd)
	case *net.ArrangementRequest:
		n.processArrangementRequest(rpc, cmd)
	case *net.PutTreasureMapRequest:
		n.processPutTreasureMapRequest(rpc, cmd)
	case *net.GetTreasureMapRequest:
		n.processGetTreasureMapRequest(rpc, cmd)
	case *net.RevokeRequest:
		n.processRevokeRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", fmt.Sprintf("%T", rpc.Command)).Error("Unexpected RPC command")
		n.reject(rpc, "unexpected command")
	}
}

func (n *Node) reject(rpc net.RPC, reason string) {
	atomic.AddUint64(&n.rejectedCount, 1)
	rpc.Respond(nil, common.NewProtocolErr(common.Rejected, "%s", reason))
}

func (n *Node) processKnownNodesRequest(rpc net.RPC, cmd *net.KnownNodesRequest) {
	resp := n.learner.Serve(cmd)

	n.logger.WithFields(logrus.Fields{
		"announced": cmd.Announce != nil,
		"unchanged": resp.Unchanged,
		"nodes":     len(resp.Nodes),
	}).Debug("process KnownNodesRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processArrangementRequest(rpc net.RPC, cmd *net.ArrangementRequest) {
	resp := &net.ArrangementResponse{}

	n.arrangementLock.Lock()
	resp.Accepted, resp.Reason = n.arrange(cmd)
	n.arrangementLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"arrangement": common.EncodeToString(cmd.ArrangementID),
		"accepted":    resp.Accepted,
		"reason":      resp.Reason,
	}).Debug("process ArrangementRequest")

	rpc.Respond(resp, nil)
}

// arrange decides on a proposal. A retry of an accepted proposal is accepted
// again; any other proposal reusing its id is refused.
func (n *Node) arrange(cmd *net.ArrangementRequest) (bool, string) {
	key := common.EncodeToString(cmd.ArrangementID)
	digest := policy.ArrangementSignable(cmd)

	if prev, ok := n.answered.Get(key); ok {
		if bytes.Equal(prev.([]byte), digest) {
			return true, ""
		}
		return false, ReasonDuplicate
	}

	if err := policy.VerifyArrangementRequest(n.suite, cmd, n.now()); err != nil {
		return false, err.Error()
	}

	kfrag, err := n.power.Decrypt(cmd.EncryptedKFrag)
	if err != nil {
		return false, ReasonKFrag
	}

	existing, err := n.store.GetArrangement(cmd.ArrangementID)
	switch {
	case err == nil:
		if !sameArrangement(existing, cmd, kfrag) {
			return false, ReasonDuplicate
		}
		n.answered.Set(key, digest, cache.DefaultExpiration)
		return true, ""
	case !common.IsStore(err, common.KeyNotFound):
		n.logger.WithError(err).Error("Reading arrangement")
		return false, ReasonStorage
	}

	if max := n.conf.MaxArrangements; max > 0 && n.store.ArrangementCount() >= max {
		return false, ReasonCapacity
	}

	err = n.store.SetArrangement(&store.Arrangement{
		ID:                cmd.ArrangementID,
		HRAC:              cmd.HRAC,
		OwnerVerifyingKey: cmd.OwnerVerifyingKey,
		KFrag:             kfrag,
		Expiration:        cmd.Expiration,
	})
	if err != nil {
		n.logger.WithError(err).Error("Storing arrangement")
		return false, ReasonStorage
	}

	n.answered.Set(key, digest, cache.DefaultExpiration)

	return true, ""
}

func sameArrangement(a *store.Arrangement, cmd *net.ArrangementRequest, kfrag []byte) bool {
	return bytes.Equal(a.HRAC, cmd.HRAC) &&
		bytes.Equal(a.OwnerVerifyingKey, cmd.OwnerVerifyingKey) &&
		bytes.Equal(a.KFrag, kfrag) &&
		a.Expiration == cmd.Expiration
}

func (n *Node) processPutTreasureMapRequest(rpc net.RPC, cmd *net.PutTreasureMapRequest) {
	resp := &net.PutTreasureMapResponse{}

	tm := new(policy.TreasureMap)
	if err := tm.Unmarshal(cmd.TreasureMap); err != nil {
		resp.Reason = fmt.Sprintf("malformed map: %v", err)
	} else if err := tm.VerifyPublic(n.suite); err != nil {
		resp.Reason = err.Error()
	} else if !bytes.Equal(tm.ID(), cmd.MapID) {
		resp.Reason = "map id mismatch"
	} else if err := n.store.SetTreasureMap(cmd.MapID, cmd.TreasureMap); err != nil {
		n.logger.WithError(err).Error("Storing treasure map")
		resp.Reason = ReasonStorage
	} else {
		resp.Stored = true
	}

	n.logger.WithFields(logrus.Fields{
		"map_id": common.EncodeToString(cmd.MapID),
		"stored": resp.Stored,
		"reason": resp.Reason,
	}).Debug("process PutTreasureMapRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processGetTreasureMapRequest(rpc net.RPC, cmd *net.GetTreasureMapRequest) {
	resp := &net.GetTreasureMapResponse{}

	data, err := n.store.GetTreasureMap(cmd.MapID)
	switch {
	case err == nil:
		resp.Found, resp.TreasureMap = true, data
	case !common.IsStore(err, common.KeyNotFound):
		n.logger.WithError(err).Error("Reading treasure map")
		rpc.Respond(nil, err)
		return
	}

	n.logger.WithFields(logrus.Fields{
		"map_id": common.EncodeToString(cmd.MapID),
		"found":  resp.Found,
	}).Debug("process GetTreasureMapRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processRevokeRequest(rpc net.RPC, cmd *net.RevokeRequest) {
	resp := &net.RevokeResponse{}

	n.arrangementLock.Lock()
	defer n.arrangementLock.Unlock()

	a, err := n.store.GetArrangement(cmd.ArrangementID)
	switch {
	case common.IsStore(err, common.KeyNotFound):
		rpc.Respond(resp, nil)
		return
	case err != nil:
		n.logger.WithError(err).Error("Reading arrangement")
		rpc.Respond(nil, err)
		return
	}

	resp.Found = true

	revocation := &policy.Revocation{ArrangementID: cmd.ArrangementID, Signature: cmd.Signature}
	if !revocation.Verify(n.suite, a.OwnerVerifyingKey) {
		resp.Reason = "bad revocation signature"
		rpc.Respond(resp, nil)
		return
	}

	if err := n.store.DeleteArrangement(cmd.ArrangementID); err != nil {
		n.logger.WithError(err).Error("Deleting arrangement")
		resp.Reason = ReasonStorage
		rpc.Respond(resp, nil)
		return
	}

	n.answered.Delete(common.EncodeToString(cmd.ArrangementID))
	resp.Revoked = true

	n.logger.WithField("arrangement", common.EncodeToString(cmd.ArrangementID)).Info("Arrangement revoked")

	rpc.Respond(resp, nil)
}
