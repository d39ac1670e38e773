package learner

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/store"
	"github.com/sirupsen/logrus"
)

// RoundReport counts what happened during a round.
type RoundReport struct {
	Sampled     int
	Responded   int
	Unreachable int
	Unchanged   int
	Applied     int
	Stale       int
	Rejected    int
	Suppressed  int
}

func (r *RoundReport) count(o Result) {
	switch o {
	case Applied:
		r.Applied++
	case Stale:
		r.Stale++
	case Rejected:
		r.Rejected++
	case Suppressed:
		r.Suppressed++
	}
}

// Result is the outcome of Learn.
type Result uint8

const (
	// Applied means the record was added to the fleet.
	Applied Result = iota
	// Stale means the fleet already had the record or a newer one.
	Stale
	// Rejected means the record failed verification.
	Rejected
	// Suppressed means the record was dropped before verification: it was
	// seen recently, concerns a quarantined address, or describes this node.
	Suppressed
)

type peerResult struct {
	peer *fleet.NodeMetadata
	resp *net.KnownNodesResponse
	err  error
}

// Learner maintains the fleet of known nodes through gossip.
type Learner struct {
	conf   *Config
	logger *logrus.Entry

	suite    crypto.Suite
	trans    net.Transport
	state    *fleet.State
	ledger   *fleet.SuspicionLedger
	selector PeerSelector
	seen     *lru.Cache
	store    store.Store

	selfAddr   crypto.Address
	selfLock   sync.RWMutex
	selfRecord *fleet.NodeMetadata

	phase     Phase
	roundLock sync.Mutex

	controlTimer *ControlTimer
	startOnce    sync.Once
	stopOnce     sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewLearner creates a Learner for the node whose address is selfAddr. The
// store is optional; when present, applied records are persisted in it.
func NewLearner(
	conf *Config,
	selfAddr crypto.Address,
	suite crypto.Suite,
	trans net.Transport,
	store store.Store,
) (*Learner, error) {

	seen, err := lru.New(conf.SeenCacheSize)
	if err != nil {
		return nil, err
	}

	l := &Learner{
		conf:         conf,
		logger:       conf.logger().WithField("learner", selfAddr.Hex()),
		suite:        suite,
		trans:        trans,
		state:        fleet.NewState(suite),
		ledger:       fleet.NewSuspicionLedger(),
		selector:     NewRandomPeerSelector(),
		seen:         seen,
		store:        store,
		selfAddr:     selfAddr,
		controlTimer: NewRandomControlTimer(),
		shutdownCh:   make(chan struct{}),
	}

	return l, nil
}

// State returns the fleet owned by the Learner. Callers only read from it.
func (l *Learner) State() *fleet.State {
	return l.state
}

// Ledger returns the SuspicionLedger of the Learner.
func (l *Learner) Ledger() *fleet.SuspicionLedger {
	return l.ledger
}

// Phase returns the phase of the current round.
func (l *Learner) Phase() Phase {
	return l.getPhase()
}

// SetSelf sets the record that the Learner announces and teaches about its own
// node.
func (l *Learner) SetSelf(md *fleet.NodeMetadata) error {
	if md.Address != l.selfAddr {
		return fmt.Errorf("record of %s is not the learner's own", md.Address)
	}
	l.selfLock.Lock()
	defer l.selfLock.Unlock()
	l.selfRecord = md
	return nil
}

// Self returns the record of the Learner's node, nil if it has none.
func (l *Learner) Self() *fleet.NodeMetadata {
	l.selfLock.RLock()
	defer l.selfLock.RUnlock()
	return l.selfRecord
}

// Restore loads the records persisted in the store into the fleet.
func (l *Learner) Restore() error {
	if l.store == nil {
		return nil
	}

	nodes, err := l.store.Nodes()
	if err != nil {
		return err
	}

	for _, md := range nodes {
		if _, err := l.state.Apply(md); err != nil {
			l.logger.WithError(err).Warn("Ignoring stored record")
		}
	}

	l.logger.WithField("nodes", l.state.Len()).Debug("Restored fleet")

	return nil
}

/*******************************************************************************
Rounds
*******************************************************************************/

// LearnRound runs one round of learning and returns when it is complete. It
// fails with NotEnoughTeachers if there is no peer to ask.
func (l *Learner) LearnRound(ctx context.Context) (RoundReport, error) {
	l.roundLock.Lock()
	defer l.roundLock.Unlock()

	var report RoundReport

	if l.getPhase() == Shutdown {
		return report, fmt.Errorf("learner is shut down")
	}
	defer l.setPhase(Idle)

	l.setPhase(Sampling)

	snapshot := l.state.Snapshot()
	candidates := fleet.ExcludeAddresses(snapshot.Nodes, func(a crypto.Address) bool {
		return a == l.selfAddr || l.ledger.IsSuspect(a)
	})
	peers := l.selector.Sample(candidates, l.conf.SampleSize)

	if len(peers) == 0 {
		return report, common.NewProtocolErr(common.NotEnoughTeachers, "no known peer")
	}
	report.Sampled = len(peers)

	l.setPhase(Requesting)

	args := &net.KnownNodesRequest{
		Announce: l.Self(),
		Checksum: snapshot.Checksum,
	}

	results := make(chan peerResult, len(peers))
	sem := make(chan struct{}, l.maxConcurrency())

	for _, p := range peers {
		go func(p *fleet.NodeMetadata) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- peerResult{peer: p, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			resp, err := l.requestKnownNodes(ctx, p.NetAddr, args)
			results <- peerResult{peer: p, resp: resp, err: err}
		}(p)
	}

	l.setPhase(Merging)

	for i := 0; i < len(peers); i++ {
		l.merge(<-results, &report)
	}

	l.selector.UpdateLast(peers)

	l.logger.WithFields(logrus.Fields{
		"sampled":     report.Sampled,
		"responded":   report.Responded,
		"unreachable": report.Unreachable,
		"applied":     report.Applied,
		"rejected":    report.Rejected,
		"known":       l.state.Len(),
	}).Debug("Learning round")

	return report, nil
}

func (l *Learner) maxConcurrency() int {
	if l.conf.MaxConcurrency <= 0 {
		return 1
	}
	return l.conf.MaxConcurrency
}

func (l *Learner) requestKnownNodes(ctx context.Context, target string, args *net.KnownNodesRequest) (*net.KnownNodesResponse, error) {
	if l.conf.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.conf.RequestTimeout)
		defer cancel()
	}

	var out net.KnownNodesResponse
	if err := l.trans.GetKnownNodes(ctx, target, args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// merge applies the answer of one peer. Records that fail verification are
// blamed on the peer when they cannot be pinned on their signer.
func (l *Learner) merge(r peerResult, report *RoundReport) {
	if r.err != nil {
		report.Unreachable++
		l.logger.WithFields(logrus.Fields{
			"peer":  r.peer.Address.Hex(),
			"error": r.err,
		}).Debug("Peer skipped")
		return
	}
	report.Responded++

	if r.resp.Teacher != nil {
		source := r.peer.Address
		report.count(l.Learn(r.resp.Teacher, &source))
	}

	l.mergeNodes(r.peer.Address, r.resp, report)
}

func (l *Learner) mergeNodes(source crypto.Address, resp *net.KnownNodesResponse, report *RoundReport) {
	if resp.Unchanged {
		report.Unchanged++
		return
	}

	nodes := resp.Nodes
	if max := l.conf.MaxNodesPerResponse; max > 0 && len(nodes) > max {
		nodes = nodes[:max]
	}

	for _, md := range nodes {
		if l.ledger.IsSuspect(source) {
			// The peer was caught relaying forgeries; drop the rest.
			report.Suppressed++
			continue
		}
		report.count(l.Learn(md, &source))
	}
}

// LearnFromTeacher asks a node known only by its network address for the
// nodes it knows. It is used to bootstrap from seed nodes.
func (l *Learner) LearnFromTeacher(ctx context.Context, netAddr string) (RoundReport, error) {
	var report RoundReport

	args := &net.KnownNodesRequest{
		Announce: l.Self(),
		Checksum: l.state.Checksum(),
	}

	resp, err := l.requestKnownNodes(ctx, netAddr, args)
	if err != nil {
		report.Unreachable++
		return report, err
	}
	report.Responded++

	if resp.Teacher == nil {
		return report, common.NewProtocolErr(common.InvalidIdentity, "teacher at %s did not identify", netAddr)
	}

	result := l.Learn(resp.Teacher, nil)
	report.count(result)
	if result == Rejected || (result == Suppressed && l.ledger.IsSuspect(resp.Teacher.Address)) {
		return report, common.NewProtocolErr(common.InvalidIdentity, "teacher at %s", netAddr)
	}

	l.mergeNodes(resp.Teacher.Address, resp, &report)

	return report, nil
}

// Remember merges a record received out of band.
func (l *Learner) Remember(md *fleet.NodeMetadata) (Result, error) {
	res := l.Learn(md, nil)
	if res == Rejected {
		return res, common.NewProtocolErr(common.InvalidIdentity, "record of %s", md.Address)
	}
	return res, nil
}

// Learn merges a single record into the fleet. source is the address of the
// peer that relayed it, nil if unknown. Identity failures never surface as
// errors; they end up in the SuspicionLedger.
func (l *Learner) Learn(md *fleet.NodeMetadata, source *crypto.Address) Result {
	if md == nil {
		return Suppressed
	}

	if md.Address == l.selfAddr || l.ledger.IsSuspect(md.Address) {
		return Suppressed
	}
	if derived, err := l.suite.DeriveAddress(md.VerifyingKey); err == nil {
		if derived == l.selfAddr || l.ledger.IsSuspect(derived) {
			return Suppressed
		}
	}

	key, err := md.Hash()
	if err != nil {
		key = nil
	}
	if key != nil {
		if _, ok := l.seen.Get(string(key)); ok {
			return Suppressed
		}
	}

	outcome, err := l.state.Apply(md)

	// Rejected records stay out of the cache so that every relay of them is
	// quarantined.
	if key != nil && outcome != fleet.Rejected {
		l.seen.Add(string(key), struct{}{})
	}

	switch outcome {
	case fleet.Applied:
		l.persist(md)
		return Applied
	case fleet.Stale:
		return Stale
	default:
		l.quarantine(md, err, source)
		return Rejected
	}
}

func (l *Learner) persist(md *fleet.NodeMetadata) {
	if l.store == nil {
		return
	}
	if err := l.store.SetNode(md); err != nil {
		l.logger.WithError(err).Error("Failed to persist node record")
	}
}

// quarantine flags the address responsible for an invalid record.
func (l *Learner) quarantine(md *fleet.NodeMetadata, err error, source *crypto.Address) {
	idErr, ok := err.(*fleet.IdentityError)
	if !ok {
		l.logger.WithError(err).Error("Unexpected error applying record")
		return
	}

	var culprit crypto.Address
	switch {
	case idErr.Attributable:
		culprit = idErr.Offender
	case source != nil:
		culprit = *source
	default:
		l.logger.WithError(idErr).Debug("Dropped unattributable record")
		return
	}

	if culprit == l.selfAddr {
		return
	}

	if l.ledger.Record(fleet.Evidence{Address: culprit, Record: md, Reason: idErr.Reason}) {
		l.logger.WithFields(logrus.Fields{
			"address": culprit.Hex(),
			"reason":  idErr.Reason,
		}).Warn("Quarantined node")
	}

	l.evict(culprit)
}

// evict takes a suspect out of the fleet and the store, so that it is neither
// sampled nor taught again.
func (l *Learner) evict(addr crypto.Address) {
	if !l.state.Remove(addr) {
		return
	}
	if l.store == nil {
		return
	}
	if err := l.store.DeleteNode(addr); err != nil {
		l.logger.WithError(err).Error("Failed to delete node record")
	}
}

/*******************************************************************************
Teaching
*******************************************************************************/

// Serve answers a request for known nodes. The announced record of the
// requester is merged first. When the requester's checksum matches, only this
// node's record is sent back.
func (l *Learner) Serve(req *net.KnownNodesRequest) *net.KnownNodesResponse {
	if req.Announce != nil {
		l.Learn(req.Announce, nil)
	}

	snapshot := l.state.Snapshot()

	resp := &net.KnownNodesResponse{
		Teacher:  l.Self(),
		Checksum: snapshot.Checksum,
	}

	if bytes.Equal(req.Checksum, snapshot.Checksum) {
		resp.Unchanged = true
		return resp
	}

	nodes := fleet.ExcludeAddresses(snapshot.Nodes, l.ledger.IsSuspect)
	if max := l.conf.MaxNodesPerResponse; max > 0 && len(nodes) > max {
		nodes = l.selector.Sample(nodes, max)
	}
	resp.Nodes = nodes

	return resp
}

/*******************************************************************************
Background mode
*******************************************************************************/

// Start runs learning rounds in the background until Stop is called.
func (l *Learner) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(2)
		go func() {
			defer l.wg.Done()
			l.controlTimer.Run(l.conf.Heartbeat)
		}()
		go func() {
			defer l.wg.Done()
			l.loop()
		}()
	})
}

func (l *Learner) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-l.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-l.controlTimer.tickCh:
			if _, err := l.LearnRound(ctx); err != nil {
				l.logger.WithError(err).Debug("Learning round")
			}
			l.controlTimer.Reset(l.conf.Heartbeat)
		case <-l.shutdownCh:
			return
		}
	}
}

// Stop ends background learning and waits for the current round to finish.
// No round runs after Stop.
func (l *Learner) Stop() {
	l.stopOnce.Do(func() {
		close(l.shutdownCh)
		l.controlTimer.Shutdown()
		l.wg.Wait()

		l.roundLock.Lock()
		l.setPhase(Shutdown)
		l.roundLock.Unlock()
	})
}
