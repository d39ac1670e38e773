package policy

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDestinations(t *testing.T, count int) []Destination {
	dests := make([]Destination, count)
	for i := range dests {
		dests[i].ProxyAddress = newPower(t).Address()
		id, err := NewArrangementID()
		require.NoError(t, err)
		dests[i].ArrangementID = id
	}
	return dests
}

func testPolicy(t *testing.T, alice, bob *crypto.Power, m, n int) *Policy {
	p, err := NewPolicy(alice.VerifyingKey(), bob.VerifyingKey(), bob.EncryptingKey(), []byte("label"), m, n, time.Now().Add(time.Hour), time.Now())
	require.NoError(t, err)
	return p
}

func TestTreasureMapOpen(t *testing.T) {
	alice, bob := newPower(t), newPower(t)
	p := testPolicy(t, alice, bob, 2, 3)
	dests := testDestinations(t, 3)

	tm, err := BuildTreasureMap(alice, suite, p, dests)
	require.NoError(t, err)
	assert.Equal(t, p.MapID(), tm.ID())
	require.NoError(t, tm.VerifyPublic(suite))

	data, err := tm.Marshal()
	require.NoError(t, err)

	received := new(TreasureMap)
	require.NoError(t, received.Unmarshal(data))
	assert.Nil(t, received.Payload())
	assert.Equal(t, tm.ID(), received.ID())

	payload, err := received.Open(suite, bob)
	require.NoError(t, err)
	assert.Equal(t, 2, payload.M)
	assert.Equal(t, dests, payload.Destinations)
	assert.Equal(t, payload, received.Payload())
}

func TestTreasureMapWrongRecipient(t *testing.T) {
	alice, bob, eve := newPower(t), newPower(t), newPower(t)
	tm, err := BuildTreasureMap(alice, suite, testPolicy(t, alice, bob, 1, 2), testDestinations(t, 2))
	require.NoError(t, err)

	_, err = tm.Open(suite, eve)
	assert.True(t, common.IsProtocol(err, common.Rejected))
}

func TestTreasureMapTampering(t *testing.T) {
	alice, bob, mallory := newPower(t), newPower(t), newPower(t)
	p := testPolicy(t, alice, bob, 1, 2)

	build := func() *TreasureMap {
		tm, err := BuildTreasureMap(alice, suite, p, testDestinations(t, 2))
		require.NoError(t, err)
		return tm
	}

	tm := build()
	tm.Ciphertext[len(tm.Ciphertext)-1] ^= 0xff
	assert.True(t, common.IsProtocol(tm.VerifyPublic(suite), common.Rejected))

	tm = build()
	tm.HRAC[0] ^= 0xff
	assert.Error(t, tm.VerifyPublic(suite))

	// Re-signing someone else's ciphertext makes the public part valid but
	// not the content.
	tm = build()
	tm.OwnerVerifyingKey = mallory.VerifyingKey()
	tm.PublicSignature, _ = mallory.Sign(publicSignable(tm.OwnerVerifyingKey, tm.HRAC, tm.Ciphertext))
	require.NoError(t, tm.VerifyPublic(suite))
	_, err := tm.Open(suite, bob)
	assert.True(t, common.IsProtocol(err, common.Rejected))

	tm = build()
	tm.OwnerVerifyingKey = []byte("not a key")
	assert.True(t, common.IsProtocol(tm.VerifyPublic(suite), common.InvalidArgument))
}

func TestBuildTreasureMapMalformed(t *testing.T) {
	alice, bob := newPower(t), newPower(t)
	p := testPolicy(t, alice, bob, 3, 3)

	_, err := BuildTreasureMap(alice, suite, p, testDestinations(t, 2))
	assert.True(t, common.IsProtocol(err, common.InvalidArgument))

	dests := testDestinations(t, 3)
	dests[2].ProxyAddress = dests[0].ProxyAddress
	_, err = BuildTreasureMap(alice, suite, p, dests)
	assert.True(t, common.IsProtocol(err, common.InvalidArgument))
}

func TestDecodePayload(t *testing.T) {
	dests := testDestinations(t, 2)
	body := encodePayload(&MapPayload{M: 2, Destinations: dests})

	p, err := decodePayload(body)
	require.NoError(t, err)
	assert.Equal(t, dests, p.Destinations)

	_, err = decodePayload(body[:len(body)-1])
	assert.Error(t, err)

	_, err = decodePayload(nil)
	assert.Error(t, err)

	body[0] = 3
	_, err = decodePayload(body)
	assert.Error(t, err)
}

func TestTreasureMapUnmarshalGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0xff, 0x00, 0x13},
		{0xdf, 0xff, 0xff, 0xff, 0xff},
		make([]byte, MaxTreasureMapSize+1),
	}
	for _, in := range inputs {
		tm := new(TreasureMap)
		assert.Error(t, tm.Unmarshal(in))
	}
}
