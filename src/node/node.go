package node

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/node/state"
	"github.com/mosaicnetworks/ursula/src/store"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Node is an Ursula: a proxy that learns about the fleet, teaches what it
// knows, holds key fragments for policy owners, and stores treasure maps.
type Node struct {
	// Node's state is also used to manage the goroutines that serve RPCs.
	state.Manager

	conf   *Config
	logger *logrus.Entry

	power   *crypto.Power
	suite   crypto.Suite
	learner *learner.Learner
	store   store.Store

	trans net.Transport
	netCh <-chan net.RPC

	limiter *rate.Limiter

	// answered maps the ids of accepted arrangements to the digest of the
	// proposal, so that retries are answered without touching the store.
	answered        *cache.Cache
	arrangementLock sync.Mutex

	selfLock sync.Mutex

	runLock      sync.Mutex
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	start         time.Time
	rpcCount      uint64
	rejectedCount uint64

	now func() time.Time
}

// NewNode is a factory method that returns a Node instance. The learner must
// be created for the address of power, over the same transport.
func NewNode(conf *Config,
	power *crypto.Power,
	suite crypto.Suite,
	learner *learner.Learner,
	store store.Store,
	trans net.Transport,
) *Node {

	var limiter *rate.Limiter
	if conf.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.RateLimit), conf.RateBurst)
	}

	ttl := conf.ProposalCacheTTL
	if ttl <= 0 {
		ttl = DefaultProposalCacheTTL
	}

	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	node := Node{
		conf:       conf,
		logger:     logger.WithField("this_id", power.Address().Hex()),
		power:      power,
		suite:      suite,
		learner:    learner,
		store:      store,
		trans:      trans,
		netCh:      trans.Consumer(),
		limiter:    limiter,
		answered:   cache.New(ttl, 2*ttl),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
	}

	return &node
}

// Init signs the metadata of the node for the advertised address of its
// transport and hands it to the learner.
func (n *Node) Init() error {
	return n.UpdateInterface(n.trans.AdvertiseAddr())
}

// UpdateInterface re-signs the node's metadata for a new network address. The
// new record always has a newer timestamp than the previous one, so that it
// replaces it across the fleet.
func (n *Node) UpdateInterface(netAddr string) error {
	n.selfLock.Lock()
	defer n.selfLock.Unlock()

	ts := n.now()
	if prev := n.learner.Self(); prev != nil && ts.UnixNano() <= prev.Timestamp {
		ts = time.Unix(0, prev.Timestamp+1)
	}

	md, err := fleet.NewNodeMetadata(n.power.VerifyingKey(), n.power.EncryptingKey(), netAddr, n.conf.Moniker, ts)
	if err != nil {
		return err
	}
	if err := md.Sign(n.power); err != nil {
		return err
	}
	if err := n.learner.SetSelf(md); err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"net_addr":  netAddr,
		"timestamp": md.Timestamp,
	}).Debug("Updated interface")

	return nil
}

// RunAsync calls Run in a separate goroutine.
func (n *Node) RunAsync(learn bool) {
	n.logger.WithField("learn", learn).Debug("RunAsync")
	go n.Run(learn)
}

// Run serves RPCs until the node is shut down. When learn is set, the learner
// runs rounds in the background.
func (n *Node) Run(learn bool) {
	n.runLock.Lock()
	defer n.runLock.Unlock()

	if n.GetState() == state.Shutdown {
		return
	}

	if n.learner.Self() == nil {
		if err := n.Init(); err != nil {
			n.logger.WithError(err).Error("Initialising node metadata")
			return
		}
	}

	n.start = n.now()
	n.SetState(state.Serving)

	if learn {
		n.learner.Start()
	}

	for {
		select {
		case rpc := <-n.netCh:
			launched := n.GoFunc(func() {
				n.processRPC(rpc)
			})
			if !launched {
				n.reject(rpc, "busy")
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// Shutdown stops the learner, waits for the RPCs being served, and closes the
// transport and the store.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")
		n.logStats()

		n.SetState(state.Shutdown)
		close(n.shutdownCh)

		n.learner.Stop()

		// Wait for the Run loop to exit before waiting for the goroutines it
		// launched.
		n.runLock.Lock()
		n.runLock.Unlock()

		n.WaitRoutines()

		if err := n.trans.Close(); err != nil {
			n.logger.WithError(err).Error("Closing transport")
		}
		if err := n.store.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	})
}

// Address returns the address of the node.
func (n *Node) Address() crypto.Address {
	return n.power.Address()
}

// Self returns the current metadata of the node.
func (n *Node) Self() *fleet.NodeMetadata {
	return n.learner.Self()
}

// Learner returns the learner of the node.
func (n *Node) Learner() *learner.Learner {
	return n.learner
}

// Store returns the store of the node.
func (n *Node) Store() store.Store {
	return n.store
}

// GetTreasureMap returns a stored treasure map by its public id.
func (n *Node) GetTreasureMap(id []byte) ([]byte, error) {
	return n.store.GetTreasureMap(id)
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	var uptime time.Duration
	if !n.start.IsZero() {
		uptime = n.now().Sub(n.start)
	}

	netAddr := ""
	if self := n.learner.Self(); self != nil {
		netAddr = self.NetAddr
	}

	fleetState := n.learner.State()

	s := map[string]string{
		"address":        n.Address().Hex(),
		"moniker":        n.conf.Moniker,
		"net_addr":       netAddr,
		"state":          n.GetState().String(),
		"learner_phase":  n.learner.Phase().String(),
		"known_nodes":    strconv.Itoa(fleetState.Len()),
		"fleet_checksum": common.EncodeToString(fleetState.Checksum()),
		"suspicious":     strconv.Itoa(n.learner.Ledger().Len()),
		"arrangements":   strconv.Itoa(n.store.ArrangementCount()),
		"treasure_maps":  strconv.Itoa(n.store.TreasureMapCount()),
		"rpcs":           strconv.FormatUint(atomic.LoadUint64(&n.rpcCount), 10),
		"rejected_rpcs":  strconv.FormatUint(atomic.LoadUint64(&n.rejectedCount), 10),
		"routines":       strconv.Itoa(n.Running()),
		"uptime":         fmt.Sprint(uptime.Truncate(time.Second)),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"known_nodes":   stats["known_nodes"],
		"suspicious":    stats["suspicious"],
		"arrangements":  stats["arrangements"],
		"treasure_maps": stats["treasure_maps"],
		"rpcs":          stats["rpcs"],
		"state":         stats["state"],
	}).Debug("Stats")
}
