package fleet

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
)

var suite = crypto.DefaultSuite{}

func newTestNode(t testing.TB, netAddr string, ts time.Time) (*crypto.Power, *NodeMetadata) {
	power, err := crypto.GeneratePower()
	if err != nil {
		t.Fatal(err)
	}
	return power, signedRecord(t, power, netAddr, ts)
}

func signedRecord(t testing.TB, power *crypto.Power, netAddr string, ts time.Time) *NodeMetadata {
	md, err := NewNodeMetadata(power.VerifyingKey(), power.EncryptingKey(), netAddr, "ursula", ts)
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Sign(power); err != nil {
		t.Fatal(err)
	}
	return md
}

func TestApplyAndSnapshot(t *testing.T) {
	state := NewState(suite)

	empty := state.Checksum()

	var records []*NodeMetadata
	for i := 0; i < 5; i++ {
		_, md := newTestNode(t, fmt.Sprintf("127.0.0.1:%d", 9000+i), time.Now())
		records = append(records, md)

		outcome, err := state.Apply(md)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if outcome != Applied {
			t.Fatalf("expected Applied, got %s", outcome)
		}
	}

	snap := state.Snapshot()

	if len(snap.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(snap.Nodes))
	}

	for i := 1; i < len(snap.Nodes); i++ {
		if !snap.Nodes[i-1].Address.Less(snap.Nodes[i].Address) {
			t.Fatalf("snapshot is not sorted by address")
		}
	}

	if bytes.Equal(snap.Checksum, empty) {
		t.Fatalf("checksum should change when nodes are added")
	}

	if len(state.Addresses()) != 5 {
		t.Fatalf("expected 5 addresses")
	}

	for _, md := range records {
		if got, ok := state.Get(md.Address); !ok || got != md {
			t.Fatalf("Get(%s) did not return the applied record", md.Address)
		}
	}
}

func TestApplyStaleLeavesStateUnchanged(t *testing.T) {
	state := NewState(suite)

	now := time.Now()
	power, newer := newTestNode(t, "127.0.0.1:9000", now)

	if _, err := state.Apply(newer); err != nil {
		t.Fatal(err)
	}

	before := state.Snapshot()

	for _, ts := range []time.Time{now, now.Add(-time.Hour)} {
		older := signedRecord(t, power, "10.0.0.1:9000", ts)

		outcome, err := state.Apply(older)
		if err != nil {
			t.Fatalf("stale records are not errors: %v", err)
		}
		if outcome != Stale {
			t.Fatalf("expected Stale, got %s", outcome)
		}

		after := state.Snapshot()

		if !bytes.Equal(before.Checksum, after.Checksum) {
			t.Fatalf("checksum changed after a stale apply")
		}
		if !before.LastUpdated.Equal(after.LastUpdated) {
			t.Fatalf("last updated changed after a stale apply")
		}
		if got, _ := state.Get(newer.Address); got.NetAddr != "127.0.0.1:9000" {
			t.Fatalf("stale record replaced the stored one")
		}
	}
}

func TestApplyNewerReplaces(t *testing.T) {
	state := NewState(suite)

	now := time.Now()
	power, first := newTestNode(t, "127.0.0.1:9000", now)
	state.Apply(first)

	checksum := state.Checksum()

	second := signedRecord(t, power, "127.0.0.1:9001", now.Add(time.Second))

	outcome, err := state.Apply(second)
	if err != nil || outcome != Applied {
		t.Fatalf("expected Applied, got %s, %v", outcome, err)
	}

	if got, _ := state.Get(first.Address); got.NetAddr != "127.0.0.1:9001" {
		t.Fatalf("newer record was not stored")
	}

	if bytes.Equal(checksum, state.Checksum()) {
		t.Fatalf("checksum should change on replacement")
	}

	if state.Len() != 1 {
		t.Fatalf("replacement should not add an entry")
	}
}

func TestApplyIdempotent(t *testing.T) {
	state := NewState(suite)

	_, md := newTestNode(t, "127.0.0.1:9000", time.Now())

	state.Apply(md)
	first := state.Snapshot()

	outcome, err := state.Apply(md)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Stale {
		t.Fatalf("second apply should be Stale, got %s", outcome)
	}

	second := state.Snapshot()

	if !bytes.Equal(first.Checksum, second.Checksum) || !first.LastUpdated.Equal(second.LastUpdated) {
		t.Fatalf("state changed on second apply")
	}
}

func TestRemove(t *testing.T) {
	state := NewState(suite)

	_, a := newTestNode(t, "127.0.0.1:9000", time.Now())
	_, b := newTestNode(t, "127.0.0.1:9001", time.Now())
	state.Apply(a)

	onlyA := state.Checksum()

	state.Apply(b)

	if !state.Remove(b.Address) {
		t.Fatalf("known address should be removed")
	}
	if _, ok := state.Get(b.Address); ok || state.Len() != 1 {
		t.Fatalf("removed record should be gone")
	}
	if !bytes.Equal(state.Checksum(), onlyA) {
		t.Fatalf("checksum should only cover the remaining records")
	}

	before := state.Snapshot()
	if state.Remove(b.Address) {
		t.Fatalf("unknown address should not be removed")
	}
	after := state.Snapshot()
	if !bytes.Equal(before.Checksum, after.Checksum) || !before.LastUpdated.Equal(after.LastUpdated) {
		t.Fatalf("removing an unknown address should change nothing")
	}
}

func TestChecksumIsOrderIndependent(t *testing.T) {
	var records []*NodeMetadata
	for i := 0; i < 6; i++ {
		_, md := newTestNode(t, fmt.Sprintf("127.0.0.1:%d", 9000+i), time.Now())
		records = append(records, md)
	}

	a := NewState(suite)
	b := NewState(suite)

	for i := range records {
		a.Apply(records[i])
		b.Apply(records[len(records)-1-i])
	}

	if !bytes.Equal(a.Checksum(), b.Checksum()) {
		t.Fatalf("merge order changed the checksum")
	}
}

func TestForgedAddressIsRejected(t *testing.T) {
	state := NewState(suite)

	_, ursula := newTestNode(t, "127.0.0.1:9000", time.Now())
	state.Apply(ursula)

	// Vladimir claims Ursula's address with his own key, and signs the claim.
	vladimir, _ := crypto.GeneratePower()
	forged := &NodeMetadata{
		Address:       ursula.Address,
		VerifyingKey:  vladimir.VerifyingKey(),
		EncryptingKey: vladimir.EncryptingKey(),
		NetAddr:       "6.6.6.6:666",
		Timestamp:     time.Now().Add(time.Hour).UnixNano(),
	}
	if err := forged.Sign(vladimir); err != nil {
		t.Fatal(err)
	}

	outcome, err := state.Apply(forged)
	if outcome != Rejected {
		t.Fatalf("expected Rejected, got %s", outcome)
	}

	idErr, ok := err.(*IdentityError)
	if !ok {
		t.Fatalf("expected *IdentityError, got %T", err)
	}
	if idErr.Reason != AddressMismatch {
		t.Fatalf("expected AddressMismatch, got %s", idErr.Reason)
	}
	if idErr.Offender != vladimir.Address() || !idErr.Attributable {
		t.Fatalf("the forger should be the attributable offender")
	}
	if !common.IsProtocol(err, common.InvalidIdentity) {
		t.Fatalf("identity errors should be InvalidIdentity protocol errors")
	}

	if got, _ := state.Get(ursula.Address); got.NetAddr != "127.0.0.1:9000" {
		t.Fatalf("forged record reached the state")
	}
}

func TestTamperedRecordIsRejected(t *testing.T) {
	state := NewState(suite)

	_, md := newTestNode(t, "127.0.0.1:9000", time.Now())
	tampered := *md
	tampered.NetAddr = "6.6.6.6:666"

	outcome, err := state.Apply(&tampered)
	if outcome != Rejected {
		t.Fatalf("expected Rejected, got %s", outcome)
	}

	idErr := err.(*IdentityError)
	if idErr.Reason != BadSignature || idErr.Attributable {
		t.Fatalf("expected unattributable BadSignature, got %s %v", idErr.Reason, idErr.Attributable)
	}

	if state.Len() != 0 {
		t.Fatalf("tampered record reached the state")
	}
}

func TestMalformedRecordsAreRejected(t *testing.T) {
	state := NewState(suite)

	power, md := newTestNode(t, "127.0.0.1:9000", time.Now())

	unsigned := *md
	unsigned.Signature = nil

	shortKey := *md
	shortKey.EncryptingKey = []byte{1, 2, 3}

	garbageKey := *md
	garbageKey.VerifyingKey = bytes.Repeat([]byte{7}, 65)

	longAddr := signedRecord(t, power, string(bytes.Repeat([]byte{'a'}, MaxNetAddrLength+1)), time.Now())

	for i, bad := range []*NodeMetadata{&unsigned, &shortKey, &garbageKey, longAddr, nil} {
		outcome, err := state.Apply(bad)
		if outcome != Rejected || err == nil {
			t.Fatalf("%d: expected rejection, got %s", i, outcome)
		}
	}

	if state.Len() != 0 {
		t.Fatalf("malformed record reached the state")
	}
}

func TestMetadataEncoding(t *testing.T) {
	_, md := newTestNode(t, "127.0.0.1:9000", time.Now())

	raw, err := md.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var decoded NodeMetadata
	if err := decoded.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	if err := decoded.Verify(suite); err != nil {
		t.Fatalf("decoded record should verify: %v", err)
	}

	for _, garbage := range [][]byte{nil, {0xc1}, raw[:len(raw)/2], bytes.Repeat([]byte{0xdd}, 40)} {
		var out NodeMetadata
		if err := out.Unmarshal(garbage); err == nil {
			if out.Verify(suite) == nil {
				t.Fatalf("garbage decoded into a valid record")
			}
		}
	}
}

func TestSuspicionLedgerIsAppendOnly(t *testing.T) {
	ledger := NewSuspicionLedger()

	power, md := newTestNode(t, "127.0.0.1:9000", time.Now())

	if !ledger.Record(Evidence{Address: power.Address(), Record: md, Reason: AddressMismatch}) {
		t.Fatalf("first evidence should be recorded")
	}

	if ledger.Record(Evidence{Address: power.Address(), Reason: BadSignature}) {
		t.Fatalf("second evidence for the same address should be ignored")
	}

	ev, ok := ledger.Evidence(power.Address())
	if !ok || ev.Reason != AddressMismatch || ev.ObservedAt.IsZero() {
		t.Fatalf("first evidence should be kept: %+v", ev)
	}

	if !ledger.IsSuspect(power.Address()) || ledger.Len() != 1 || len(ledger.Entries()) != 1 {
		t.Fatalf("ledger should contain one suspect")
	}
}

func TestJSONTeachers(t *testing.T) {
	dir := t.TempDir()

	store := NewJSONTeachers(dir)

	if _, err := store.Teachers(); err == nil {
		t.Fatalf("reading a missing file should fail")
	}

	power, _ := crypto.GeneratePower()

	teachers := []Teacher{
		{NetAddr: "127.0.0.1:9000", Address: "0x" + power.Address().Hex()[2:]},
		{NetAddr: "127.0.0.1:9001"},
	}

	if err := store.Write(teachers); err != nil {
		t.Fatal(err)
	}

	got, err := store.Teachers()
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 teachers, got %d", len(got))
	}

	if got[0].Address != power.Address().Hex() {
		t.Fatalf("address was not cleansed: %s", got[0].Address)
	}

	if got[1].Address != "" || got[1].NetAddr != "127.0.0.1:9001" {
		t.Fatalf("unexpected teacher %+v", got[1])
	}
}
