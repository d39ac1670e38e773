package learner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/store"
)

type testNode struct {
	power   *crypto.Power
	record  *fleet.NodeMetadata
	trans   *net.InmemTransport
	learner *Learner
}

func testConfig(t *testing.T) *Config {
	conf := DefaultConfig()
	conf.RequestTimeout = 200 * time.Millisecond
	conf.Heartbeat = 20 * time.Millisecond
	conf.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return conf
}

func newRecord(t *testing.T, power *crypto.Power, netAddr string, ts time.Time) *fleet.NodeMetadata {
	md, err := fleet.NewNodeMetadata(power.VerifyingKey(), power.EncryptingKey(), netAddr, "test", ts)
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Sign(power); err != nil {
		t.Fatal(err)
	}
	return md
}

// serve answers known-nodes requests on trans with handler until the test
// ends.
func serve(t *testing.T, trans net.Transport, handler func(*net.KnownNodesRequest) *net.KnownNodesResponse) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case rpc := <-trans.Consumer():
				req, ok := rpc.Command.(*net.KnownNodesRequest)
				if !ok {
					rpc.Respond(nil, fmt.Errorf("unexpected command %T", rpc.Command))
					continue
				}
				rpc.Respond(handler(req), nil)
			case <-done:
				return
			}
		}
	}()
}

func newTestNode(t *testing.T, conf *Config, s store.Store) *testNode {
	power, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	addr, trans := net.NewInmemTransport("")

	record := newRecord(t, power, addr, time.Now())

	l, err := NewLearner(conf, power.Address(), crypto.DefaultSuite{}, trans, s)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetSelf(record); err != nil {
		t.Fatal(err)
	}

	serve(t, trans, l.Serve)

	return &testNode{
		power:   power,
		record:  record,
		trans:   trans,
		learner: l,
	}
}

func newTestNetwork(t *testing.T, n int) []*testNode {
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		nodes[i] = newTestNode(t, testConfig(t), nil)
	}
	connect(nodes...)
	return nodes
}

func connect(nodes ...*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.trans.Connect(b.trans.LocalAddr(), b.trans)
			}
		}
	}
}

func remember(t *testing.T, l *Learner, md *fleet.NodeMetadata) {
	if _, err := l.Remember(md); err != nil {
		t.Fatal(err)
	}
}

func TestLearnRoundWithoutPeers(t *testing.T) {
	node := newTestNode(t, testConfig(t), nil)

	_, err := node.learner.LearnRound(context.Background())
	if !common.IsProtocol(err, common.NotEnoughTeachers) {
		t.Fatalf("expected NotEnoughTeachers, got %v", err)
	}
}

func TestLearnFromTeacher(t *testing.T) {
	nodes := newTestNetwork(t, 5)

	teacher := nodes[0]
	for _, n := range nodes[1:] {
		remember(t, teacher.learner, n.record)
	}

	student := nodes[1]
	report, err := student.learner.LearnFromTeacher(context.Background(), teacher.trans.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}

	if l := student.learner.State().Len(); l != 4 {
		t.Fatalf("student should know 4 nodes, knows %d", l)
	}
	if _, ok := student.learner.State().Get(student.record.Address); ok {
		t.Fatalf("student should not learn about itself")
	}
	if report.Applied != 4 {
		t.Fatalf("expected 4 applied records, got %d", report.Applied)
	}
}

func TestGossipConverges(t *testing.T) {
	n := 6
	nodes := newTestNetwork(t, n)

	// Each node initially knows only the next one.
	for i, node := range nodes {
		remember(t, node.learner, nodes[(i+1)%n].record)
	}

	for round := 0; round < 10; round++ {
		for _, node := range nodes {
			if _, err := node.learner.LearnRound(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
	}

	for i, node := range nodes {
		if l := node.learner.State().Len(); l != n-1 {
			t.Fatalf("node %d should know %d nodes, knows %d", i, n-1, l)
		}
		if node.learner.Ledger().Len() != 0 {
			t.Fatalf("node %d should not suspect anyone", i)
		}
	}

	// A further round only brings Unchanged answers or stale records.
	report, err := nodes[0].learner.LearnRound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Applied != 0 {
		t.Fatalf("converged fleet should not change, applied %d", report.Applied)
	}
}

func TestUnchangedWhenChecksumsMatch(t *testing.T) {
	nodes := newTestNetwork(t, 3)

	// Both know only the third node, so their fleets are identical.
	remember(t, nodes[0].learner, nodes[2].record)
	remember(t, nodes[1].learner, nodes[2].record)

	resp := nodes[0].learner.Serve(&net.KnownNodesRequest{
		Checksum: nodes[1].learner.State().Checksum(),
	})
	if !resp.Unchanged || len(resp.Nodes) != 0 {
		t.Fatalf("response should be Unchanged and empty")
	}
	if resp.Teacher == nil || resp.Teacher.Address != nodes[0].record.Address {
		t.Fatalf("response should carry the teacher's record")
	}
}

func TestServeIsBounded(t *testing.T) {
	conf := testConfig(t)
	conf.MaxNodesPerResponse = 2
	teacher := newTestNode(t, conf, nil)

	for i := 0; i < 5; i++ {
		power, err := crypto.GeneratePower()
		if err != nil {
			t.Fatal(err)
		}
		remember(t, teacher.learner, newRecord(t, power, fmt.Sprintf("node%d", i), time.Now()))
	}

	resp := teacher.learner.Serve(&net.KnownNodesRequest{})
	if len(resp.Nodes) != 2 {
		t.Fatalf("response should hold 2 nodes, holds %d", len(resp.Nodes))
	}
}

func TestServeMergesAnnouncement(t *testing.T) {
	nodes := newTestNetwork(t, 2)

	nodes[0].learner.Serve(&net.KnownNodesRequest{Announce: nodes[1].record})

	if _, ok := nodes[0].learner.State().Get(nodes[1].record.Address); !ok {
		t.Fatalf("announced record should be learned")
	}
}

func TestUnreachablePeerIsNotSuspect(t *testing.T) {
	node := newTestNode(t, testConfig(t), nil)

	// A valid record for a node that nobody can reach.
	power, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	remember(t, node.learner, newRecord(t, power, "nowhere", time.Now()))

	report, err := node.learner.LearnRound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Unreachable != 1 {
		t.Fatalf("expected 1 unreachable peer, got %d", report.Unreachable)
	}
	if node.learner.Ledger().Len() != 0 {
		t.Fatalf("unreachable peer should not be suspect")
	}
	if node.learner.State().Len() != 1 {
		t.Fatalf("unreachable peer should stay known")
	}
}

// newMaliciousTeacher returns a teacher, known to the student, that answers
// with the given records.
func newMaliciousTeacher(t *testing.T, student *testNode, records ...*fleet.NodeMetadata) *testNode {
	power, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	addr, trans := net.NewInmemTransport("")
	record := newRecord(t, power, addr, time.Now())

	serve(t, trans, func(*net.KnownNodesRequest) *net.KnownNodesResponse {
		return &net.KnownNodesResponse{
			Teacher:  record,
			Checksum: []byte("whatever"),
			Nodes:    records,
		}
	})

	student.trans.Connect(addr, trans)
	remember(t, student.learner, record)

	return &testNode{power: power, record: record, trans: trans}
}

func TestSelfSignedForgeryQuarantinesSigner(t *testing.T) {
	student := newTestNode(t, testConfig(t), nil)

	victimPower, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	victim := newRecord(t, victimPower, "victim", time.Now())
	remember(t, student.learner, victim)

	// Vladimir claims the victim's address with his own key and signs it.
	vladimir, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	forged, err := fleet.NewNodeMetadata(vladimir.VerifyingKey(), vladimir.EncryptingKey(), "vladimir", "victim", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	forged.Address = victim.Address
	if err := forged.Sign(vladimir); err != nil {
		t.Fatal(err)
	}

	teacher := newMaliciousTeacher(t, student, forged)

	for i := 0; i < 3; i++ {
		if _, err := student.learner.LearnRound(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	ledger := student.learner.Ledger()
	if !ledger.IsSuspect(vladimir.Address()) {
		t.Fatalf("forger should be suspect")
	}
	if ledger.IsSuspect(victim.Address) {
		t.Fatalf("victim should not be suspect")
	}
	if ledger.IsSuspect(teacher.record.Address) {
		t.Fatalf("relaying a self-signed forgery should not make the teacher suspect")
	}

	ev, _ := ledger.Evidence(vladimir.Address())
	if ev.Reason != fleet.AddressMismatch {
		t.Fatalf("expected AddressMismatch, got %v", ev.Reason)
	}

	md, ok := student.learner.State().Get(victim.Address)
	if !ok || md.NetAddr != "victim" {
		t.Fatalf("victim's record should be intact")
	}
	if _, ok := student.learner.State().Get(vladimir.Address()); ok {
		t.Fatalf("forger should never enter the fleet")
	}
}

func TestTamperedRecordQuarantinesRelay(t *testing.T) {
	student := newTestNode(t, testConfig(t), nil)

	victimPower, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	victim := newRecord(t, victimPower, "victim", time.Now())

	tampered := *victim
	tampered.NetAddr = "attacker"
	tampered.Timestamp++

	teacher := newMaliciousTeacher(t, student, &tampered)

	if _, err := student.learner.LearnRound(context.Background()); err != nil {
		t.Fatal(err)
	}

	ledger := student.learner.Ledger()
	if !ledger.IsSuspect(teacher.record.Address) {
		t.Fatalf("relay of a tampered record should be suspect")
	}
	if ledger.IsSuspect(victim.Address) {
		t.Fatalf("victim should not be suspect")
	}
	if _, ok := student.learner.State().Get(victim.Address); ok {
		t.Fatalf("tampered record should not enter the fleet")
	}

	if _, ok := student.learner.State().Get(teacher.record.Address); ok {
		t.Fatalf("suspect relay should be evicted from the fleet")
	}
	if student.learner.State().Len() != 0 {
		t.Fatalf("fleet should be empty, holds %d", student.learner.State().Len())
	}

	// The suspect teacher is no longer sampled.
	_, err = student.learner.LearnRound(context.Background())
	if !common.IsProtocol(err, common.NotEnoughTeachers) {
		t.Fatalf("expected NotEnoughTeachers, got %v", err)
	}
}

func TestEveryRelayOfATamperedRecordIsFlagged(t *testing.T) {
	student := newTestNode(t, testConfig(t), nil)

	victimPower, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	tampered := *newRecord(t, victimPower, "victim", time.Now())
	tampered.NetAddr = "attacker"

	var relays []crypto.Address
	for i := 0; i < 2; i++ {
		p, err := crypto.GeneratePower()
		if err != nil {
			t.Fatal(err)
		}
		relays = append(relays, p.Address())
	}

	for i, relay := range relays {
		relay := relay
		if res := student.learner.Learn(&tampered, &relay); res != Rejected {
			t.Fatalf("relay %d: expected Rejected, got %v", i, res)
		}
	}

	ledger := student.learner.Ledger()
	for i, relay := range relays {
		if !ledger.IsSuspect(relay) {
			t.Fatalf("relay %d should be suspect", i)
		}
	}
	if ledger.IsSuspect(tampered.Address) {
		t.Fatalf("victim should not be suspect")
	}
}

func TestSuspectsAreNotTaught(t *testing.T) {
	s := store.NewInmemStore()
	student := newTestNode(t, testConfig(t), s)

	honest := newTestNode(t, testConfig(t), nil)
	connect(student, honest)
	remember(t, student.learner, honest.record)

	victimPower, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	tampered := *newRecord(t, victimPower, "victim", time.Now())
	tampered.NetAddr = "attacker"

	teacher := newMaliciousTeacher(t, student, &tampered)
	if _, err := s.GetNode(teacher.record.Address); err != nil {
		t.Fatalf("teacher should be persisted before it misbehaves: %v", err)
	}

	if _, err := student.learner.LearnRound(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !student.learner.Ledger().IsSuspect(teacher.record.Address) {
		t.Fatalf("relay of a tampered record should be suspect")
	}

	resp := student.learner.Serve(&net.KnownNodesRequest{})
	if len(resp.Nodes) != 1 || resp.Nodes[0].Address != honest.record.Address {
		t.Fatalf("only the honest node should be taught, got %d nodes", len(resp.Nodes))
	}
	for _, md := range resp.Nodes {
		if md.Address == teacher.record.Address {
			t.Fatalf("suspect should never be taught")
		}
	}

	if _, err := s.GetNode(teacher.record.Address); !common.IsStore(err, common.KeyNotFound) {
		t.Fatalf("suspect should be deleted from the store, got %v", err)
	}

	restarted, err := NewLearner(testConfig(t), student.power.Address(), crypto.DefaultSuite{}, student.trans, s)
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Restore(); err != nil {
		t.Fatal(err)
	}
	if _, ok := restarted.State().Get(teacher.record.Address); ok {
		t.Fatalf("suspect should not come back on restart")
	}
}

func TestSuspectRecordsAreSuppressed(t *testing.T) {
	node := newTestNode(t, testConfig(t), nil)

	power, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	node.learner.Ledger().Record(fleet.Evidence{Address: power.Address(), Reason: fleet.BadSignature})

	if res := node.learner.Learn(newRecord(t, power, "suspect", time.Now()), nil); res != Suppressed {
		t.Fatalf("record of a suspect should be suppressed, got %v", res)
	}
	if node.learner.State().Len() != 0 {
		t.Fatalf("suspect should never enter the fleet")
	}
}

func TestBackgroundLearning(t *testing.T) {
	nodes := newTestNetwork(t, 3)
	remember(t, nodes[0].learner, nodes[1].record)
	remember(t, nodes[1].learner, nodes[2].record)

	nodes[0].learner.Start()

	deadline := time.Now().Add(3 * time.Second)
	for nodes[0].learner.State().Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("background learning did not discover the network")
		}
		time.Sleep(10 * time.Millisecond)
	}

	nodes[0].learner.Stop()

	if p := nodes[0].learner.Phase(); p != Shutdown {
		t.Fatalf("expected Shutdown phase, got %v", p)
	}
	if _, err := nodes[0].learner.LearnRound(context.Background()); err == nil {
		t.Fatalf("no round should run after Stop")
	}
}

func TestLearnedNodesArePersisted(t *testing.T) {
	s := store.NewInmemStore()
	node := newTestNode(t, testConfig(t), s)

	others := newTestNetwork(t, 2)
	remember(t, node.learner, others[0].record)
	remember(t, node.learner, others[1].record)

	stored, err := s.Nodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored nodes, got %d", len(stored))
	}

	restarted, err := NewLearner(testConfig(t), node.power.Address(), crypto.DefaultSuite{}, node.trans, s)
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Restore(); err != nil {
		t.Fatal(err)
	}
	if restarted.State().Len() != 2 {
		t.Fatalf("restored fleet should hold 2 nodes, holds %d", restarted.State().Len())
	}
}

func TestRandomPeerSelector(t *testing.T) {
	var records []*fleet.NodeMetadata
	for i := 0; i < 10; i++ {
		records = append(records, &fleet.NodeMetadata{Address: crypto.Address{byte(i)}})
	}

	ps := NewRandomPeerSelector()

	first := ps.Sample(records, 4)
	if len(first) != 4 {
		t.Fatalf("expected 4 peers, got %d", len(first))
	}
	ps.UpdateLast(first)

	second := ps.Sample(records, 4)
	for _, a := range first {
		for _, b := range second {
			if a.Address == b.Address {
				t.Fatalf("consecutive samples should not overlap when there are enough peers")
			}
		}
	}

	if all := ps.Sample(records[:3], 4); len(all) != 3 {
		t.Fatalf("sample should be bounded by the candidates")
	}
}
