package fhecrypto

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"
	"github.com/tuneinsight/lattigo/v5/schemes/bgv"

	"github.com/maFHEa/engine/internal/apperr"
)

// PartialDecryption is one party's contribution toward fusion-decrypting a
// ciphertext: a KeySwitch share from the party's own secret key to the
// all-zero secret key, i.e. a masked opening of that party's slice of the
// ciphertext's noise term. Two constructors exist to mirror the lead/main
// distinction of the partial_decrypt verb (its is_lead flag), but the
// underlying share computation is identical for every party —
// lattigo's KeySwitchProtocol adds the ciphertext's own constant term
// exactly once, inside FusionDecrypt's call to KeySwitch, rather than
// inside any individual party's share. Calling one party's contribution
// "lead" only matters for bookkeeping at the RPC layer (internal/threshold
// has the requester compute the one lead share itself, since it also owns
// the final KeySwitch/fuse call); cryptographically every share is symmetric.
type PartialDecryption struct {
	share multiparty.KeySwitchShare
}

// PartialDecryptLead computes party i's share of threshold-decrypting ct.
// The party designated lead by the caller is also the one that later
// invokes FusionDecrypt.
func (c *Context) PartialDecryptLead(ct *Ciphertext, sk *rlwe.SecretKey) (*PartialDecryption, error) {
	return c.partialDecrypt(ct, sk)
}

// PartialDecryptMain computes a non-lead party's share of threshold-
// decrypting ct. See PartialDecryption's doc comment for why this and
// PartialDecryptLead perform the same computation.
func (c *Context) PartialDecryptMain(ct *Ciphertext, sk *rlwe.SecretKey) (*PartialDecryption, error) {
	return c.partialDecrypt(ct, sk)
}

func (c *Context) partialDecrypt(ct *Ciphertext, sk *rlwe.SecretKey) (*PartialDecryption, error) {
	if ct == nil || ct.ct == nil {
		return nil, apperr.NewFheCryptoError("partial_decrypt", errNilCiphertext)
	}
	level := ct.ct.Level()
	share := c.cksProto.AllocateShare(level)
	zeroSk := rlwe.NewSecretKey(c.Params.Parameters)
	c.cksProto.GenShare(sk, zeroSk, ct.ct, &share)
	return &PartialDecryption{share: share}, nil
}

// FusionDecrypt combines N partial decryptions into the plaintext. Order-
// independent: aggregation is commutative. internal/threshold is
// responsible for collecting exactly one share per party before calling
// this; FusionDecrypt itself only checks that at least one share is
// present.
func (c *Context) FusionDecrypt(ct *Ciphertext, parts []*PartialDecryption) (*Plaintext, error) {
	if len(parts) == 0 {
		return nil, apperr.NewReconstructionError("fusion_decrypt", errEmptyShareSet)
	}
	level := ct.ct.Level()
	combined := parts[0].share
	for _, p := range parts[1:] {
		next := c.cksProto.AllocateShare(level)
		if err := c.cksProto.AggregateShares(combined, p.share, &next); err != nil {
			return nil, apperr.NewReconstructionError("fusion_decrypt", err)
		}
		combined = next
	}

	out := rlwe.NewCiphertext(c.Params.Parameters, ct.ct.Degree(), level)
	c.cksProto.KeySwitch(ct.ct, combined, out)

	// The aggregated shares already hold every party's opening of the
	// ciphertext's masking term, so decrypting under the all-zero secret
	// key recovers the plaintext directly: Decrypt(out, sk=0) == out.Value[0].
	zeroSk := rlwe.NewSecretKey(c.Params.Parameters)
	pt := bgv.NewDecryptor(c.Params, zeroSk).DecryptNew(out)
	return &Plaintext{pt: pt}, nil
}

var errNilCiphertext = fheErr("partial_decrypt: nil ciphertext")
