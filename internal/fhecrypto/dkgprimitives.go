package fhecrypto

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"
	"github.com/tuneinsight/lattigo/v5/utils/sampling"

	"github.com/maFHEa/engine/internal/apperr"
)

// CRS is the common reference string every party derives the same public
// key / relin key common-reference-polynomials from. It is seeded from the
// game ID so every party can regenerate it independently without a
// broadcast round.
type CRS struct {
	seed []byte
}

// NewCRS keys the common reference string for both the CKG and RKG
// protocols with the game ID.
func NewCRS(gameID string) (*CRS, error) {
	seed := []byte(gameID)
	if _, err := sampling.NewKeyedPRNG(seed); err != nil {
		return nil, apperr.NewFheCryptoError("new_crs", err)
	}
	return &CRS{seed: seed}, nil
}

// stream returns a keyed PRNG at the start of the CRS byte stream, so every
// call on every party samples the same polynomials: the public-key CRP
// first, then the relinearization-key CRP.
func (crs *CRS) stream() sampling.PRNG {
	prng, _ := sampling.NewKeyedPRNG(crs.seed) // key already checked by NewCRS
	return prng
}

// --- Round 1: joint public key (the "key chain") ---

// PublicKeyGenShare is one party's contribution to the joint public key.
type PublicKeyGenShare struct {
	share multiparty.PublicKeyGenShare
}

// GenPublicKeyShare computes party i's CKG share from its own secret key
// and the common CRP. This is the cryptographic contribution behind each
// "join" in the round-1 key chain; the strict sequential RPC ordering is
// enforced by internal/dkg, not by this function.
func (c *Context) GenPublicKeyShare(sk *rlwe.SecretKey, crs *CRS) (*PublicKeyGenShare, error) {
	crp := c.pkgProto.SampleCRP(crs.stream())
	share := c.pkgProto.AllocateShare()
	c.pkgProto.GenShare(sk, crp, &share)
	return &PublicKeyGenShare{share: share}, nil
}

// AggregatePublicKeyShares folds a newly-received share into the running
// aggregate, mirroring the round-1 key chain where each peer threads the
// current aggregate into the next.
func (c *Context) AggregatePublicKeyShares(running, next *PublicKeyGenShare) (*PublicKeyGenShare, error) {
	out := c.pkgProto.AllocateShare()
	if err := c.pkgProto.AggregateShares(running.share, next.share, &out); err != nil {
		return nil, apperr.NewFheCryptoError("aggregate_public_key_shares", err)
	}
	return &PublicKeyGenShare{share: out}, nil
}

// FinalizeJointPublicKey turns the fully-aggregated round-1 share into the
// joint public key every party installs identically.
func (c *Context) FinalizeJointPublicKey(crs *CRS, combined *PublicKeyGenShare) (*rlwe.PublicKey, error) {
	crp := c.pkgProto.SampleCRP(crs.stream())
	pk := rlwe.NewPublicKey(c.Params.Parameters)
	c.pkgProto.GenPublicKey(combined.share, crp, pk)
	return pk, nil
}

// --- Round 2 & 3: joint relinearization key ---

// KeySwitchGenShare is a party's round-1 relin-key share (the "KeySwitchGen"
// step — an ephemeral-secret-keyed share of the party's real secret key,
// used so no single round leaks sk_i).
type KeySwitchGenShare struct {
	share   multiparty.RelinearizationKeyGenShare
	ephSk   *rlwe.SecretKey
}

// GenerateKeySwitchGen produces round 1 of the relinearization key
// protocol: an ephemeral secret key and the corresponding share.
func (c *Context) GenerateKeySwitchGen(sk *rlwe.SecretKey, crs *CRS) (*KeySwitchGenShare, error) {
	prng := crs.stream()
	c.pkgProto.SampleCRP(prng) // skip the public-key CRP
	crp := c.rkgProto.SampleCRP(prng)
	ephSk, share1, _ := c.rkgProto.AllocateShare()
	c.rkgProto.GenShareRoundOne(sk, crp, ephSk, &share1)
	return &KeySwitchGenShare{share: share1, ephSk: ephSk}, nil
}

// EphemeralSecretKey returns the ephemeral secret key this party must
// reuse in its own GenerateMultMultKey call (round 3) — never serialized,
// never sent to any other party.
func (s *KeySwitchGenShare) EphemeralSecretKey() *rlwe.SecretKey { return s.ephSk }

// CombineKeySwitchKeys aggregates every party's round-1 share into KS*.
func (c *Context) CombineKeySwitchKeys(shares []*KeySwitchGenShare) (*KeySwitchGenShare, error) {
	if len(shares) == 0 {
		return nil, apperr.NewFheCryptoError("combine_keyswitch_keys", errEmptyShareSet)
	}
	_, combined, _ := c.rkgProto.AllocateShare()
	combined = shares[0].share
	for _, s := range shares[1:] {
		next := combined
		if err := c.rkgProto.AggregateShares(next, s.share, &combined); err != nil {
			return nil, apperr.NewFheCryptoError("combine_keyswitch_keys", err)
		}
	}
	return &KeySwitchGenShare{share: combined, ephSk: shares[0].ephSk}, nil
}

// MultMultKeyShare is a party's round-2 relin-key share.
type MultMultKeyShare struct {
	share multiparty.RelinearizationKeyGenShare
}

// GenerateMultMultKey produces round 2 of the relinearization key protocol
// from the party's own ephemeral secret and the combined round-1 share KS*.
func (c *Context) GenerateMultMultKey(sk *rlwe.SecretKey, ephSk *rlwe.SecretKey, combinedRoundOne *KeySwitchGenShare) (*MultMultKeyShare, error) {
	_, _, share2 := c.rkgProto.AllocateShare()
	c.rkgProto.GenShareRoundTwo(ephSk, sk, combinedRoundOne.share, &share2)
	return &MultMultKeyShare{share: share2}, nil
}

// CombineMultEvalKeys aggregates every party's round-2 share and combines it
// with the aggregated round-1 share KS* (from CombineKeySwitchKeys) into JMK.
func (c *Context) CombineMultEvalKeys(round1 *KeySwitchGenShare, shares []*MultMultKeyShare) (*rlwe.RelinearizationKey, error) {
	if len(shares) == 0 {
		return nil, apperr.NewFheCryptoError("combine_mult_eval_keys", errEmptyShareSet)
	}
	combined := shares[0].share
	for _, s := range shares[1:] {
		next := combined
		if err := c.rkgProto.AggregateShares(next, s.share, &combined); err != nil {
			return nil, apperr.NewFheCryptoError("combine_mult_eval_keys", err)
		}
	}
	rlk := rlwe.NewRelinearizationKey(c.Params.Parameters)
	c.rkgProto.GenRelinearizationKey(round1.share, combined, rlk)
	return rlk, nil
}

var errEmptyShareSet = fheErr("no shares to combine")
