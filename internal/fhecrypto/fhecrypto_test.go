package fhecrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

const testPlayers = 4

// genJointContext runs a full 3-round DKG locally (no network, no
// internal/dkg state machine) to get a ready *Context plus each party's
// local secret key, for use as a fixture by the other tests in this file.
func genJointContext(t *testing.T) (*Context, []*rlwe.SecretKey) {
	t.Helper()
	ctx, err := NewContext(testPlayers)
	require.NoError(t, err)

	crs, err := NewCRS("test-game")
	require.NoError(t, err)

	sks := make([]*rlwe.SecretKey, testPlayers)
	for i := range sks {
		sks[i] = ctx.GenLocalSecretKey()
	}

	// Round 1: sequential key chain.
	var running *PublicKeyGenShare
	for i := 0; i < testPlayers; i++ {
		share, err := ctx.GenPublicKeyShare(sks[i], crs)
		require.NoError(t, err)
		if running == nil {
			running = share
			continue
		}
		running, err = ctx.AggregatePublicKeyShares(running, share)
		require.NoError(t, err)
	}
	jpk, err := ctx.FinalizeJointPublicKey(crs, running)
	require.NoError(t, err)
	ctx.InstallJointPublicKey(jpk)

	// Rounds 2 & 3: relinearization key.
	round1 := make([]*KeySwitchGenShare, testPlayers)
	for i := 0; i < testPlayers; i++ {
		s, err := ctx.GenerateKeySwitchGen(sks[i], crs)
		require.NoError(t, err)
		round1[i] = s
	}
	combinedRound1, err := ctx.CombineKeySwitchKeys(round1)
	require.NoError(t, err)

	round2 := make([]*MultMultKeyShare, testPlayers)
	for i := 0; i < testPlayers; i++ {
		s, err := ctx.GenerateMultMultKey(sks[i], round1[i].ephSk, combinedRound1)
		require.NoError(t, err)
		round2[i] = s
	}
	jmk, err := ctx.CombineMultEvalKeys(combinedRound1, round2)
	require.NoError(t, err)
	ctx.InstallJointRelinKey(jmk)

	return ctx, sks
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ctx, err := NewContext(testPlayers)
	require.NoError(t, err)

	vec := make([]int64, ctx.NumSlots)
	vec[0], vec[1], vec[2] = 1, 0, 0

	pt, err := ctx.Encode(vec)
	require.NoError(t, err)
	got, err := ctx.Decode(pt)
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestEncryptAddFuseDecrypt(t *testing.T) {
	ctx, sks := genJointContext(t)

	a := make([]int64, ctx.NumSlots)
	b := make([]int64, ctx.NumSlots)
	a[0], a[1] = 1, 0
	b[0], b[1] = 0, 1

	ctA, err := ctx.EncryptVector(a)
	require.NoError(t, err)
	ctB, err := ctx.EncryptVector(b)
	require.NoError(t, err)

	sum, err := ctx.Add(ctA, ctB)
	require.NoError(t, err)

	parts := make([]*PartialDecryption, testPlayers)
	lead, err := ctx.PartialDecryptLead(sum, sks[0])
	require.NoError(t, err)
	parts[0] = lead
	for i := 1; i < testPlayers; i++ {
		p, err := ctx.PartialDecryptMain(sum, sks[i])
		require.NoError(t, err)
		parts[i] = p
	}

	pt, err := ctx.FusionDecrypt(sum, parts)
	require.NoError(t, err)
	got, err := ctx.Decode(pt)
	require.NoError(t, err)

	require.EqualValues(t, 1, got[0])
	require.EqualValues(t, 1, got[1])
}

func TestMulRequiresRelinKey(t *testing.T) {
	ctx, err := NewContext(testPlayers)
	require.NoError(t, err)

	one := make([]int64, ctx.NumSlots)
	one[0] = 1
	ct, err := ctx.Encode(one)
	require.NoError(t, err)
	_ = ct

	// Without InstallJointRelinKey, Mul must fail rather than panic.
	dummy := &Ciphertext{}
	_, err = ctx.Mul(dummy, dummy)
	require.Error(t, err)
}

func TestFusionDecryptRejectsEmptyShareSet(t *testing.T) {
	ctx, _ := genJointContext(t)
	zero := make([]int64, ctx.NumSlots)
	ct, err := ctx.EncryptVector(zero)
	require.NoError(t, err)

	_, err = ctx.FusionDecrypt(ct, nil)
	require.Error(t, err)
}

func TestCiphertextSerializeRoundTrip(t *testing.T) {
	ctx, _ := genJointContext(t)
	vec := make([]int64, ctx.NumSlots)
	vec[3] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	wire, err := ct.Serialize()
	require.NoError(t, err)
	require.NotEmpty(t, wire)

	back, err := DeserializeCiphertext(wire)
	require.NoError(t, err)
	require.NotNil(t, back.ct)
}
