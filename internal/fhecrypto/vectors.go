package fhecrypto

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bgv"

	"github.com/maFHEa/engine/internal/apperr"
)

// Plaintext wraps a packed bgv plaintext over this context's slots.
type Plaintext struct {
	pt *rlwe.Plaintext
}

// Ciphertext wraps a bgv ciphertext. Every ciphertext the engine produces
// encodes either an N-vector or a role one-hot vector.
type Ciphertext struct {
	ct *rlwe.Ciphertext
}

// Encode packs an integer vector (entries in [0, N]) into a plaintext with
// this context's slot count. Unused slots beyond len(vec) are zero-padded.
func (c *Context) Encode(vec []int64) (*Plaintext, error) {
	pt := bgv.NewPlaintext(c.Params, c.Params.MaxLevel())
	if err := c.encoder.Encode(vec, pt); err != nil {
		return nil, apperr.NewFheCryptoError("encode", err)
	}
	return &Plaintext{pt: pt}, nil
}

// Decode unpacks a plaintext back into its integer slots.
func (c *Context) Decode(pt *Plaintext) ([]int64, error) {
	out := make([]int64, c.NumSlots)
	if err := c.encoder.Decode(pt.pt, out); err != nil {
		return nil, apperr.NewFheCryptoError("decode", err)
	}
	return out, nil
}

// Encrypt encrypts a plaintext under the joint public key.
func (c *Context) Encrypt(pt *Plaintext) (*Ciphertext, error) {
	if c.jointPublicKey == nil {
		return nil, apperr.NewFheCryptoError("encrypt", errNoJointKey)
	}
	enc := bgv.NewEncryptor(c.Params, c.jointPublicKey)
	ct, err := enc.EncryptNew(pt.pt)
	if err != nil {
		return nil, apperr.NewFheCryptoError("encrypt", err)
	}
	return &Ciphertext{ct: ct}, nil
}

// EncryptVector is the common Encode-then-Encrypt path used throughout the
// vector factory and role assigner.
func (c *Context) EncryptVector(vec []int64) (*Ciphertext, error) {
	pt, err := c.Encode(vec)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(pt)
}

// Add returns ct1 + ct2, slot-wise.
func (c *Context) Add(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	out, err := c.evalOrPlainEvaluator().AddNew(ct1.ct, ct2.ct)
	if err != nil {
		return nil, apperr.NewFheCryptoError("add", err)
	}
	return &Ciphertext{ct: out}, nil
}

// AddPlain returns ct + pt, slot-wise.
func (c *Context) AddPlain(ct *Ciphertext, pt *Plaintext) (*Ciphertext, error) {
	out, err := c.evalOrPlainEvaluator().AddNew(ct.ct, pt.pt)
	if err != nil {
		return nil, apperr.NewFheCryptoError("add_plain", err)
	}
	return &Ciphertext{ct: out}, nil
}

// Negate returns -ct, slot-wise.
func (c *Context) Negate(ct *Ciphertext) (*Ciphertext, error) {
	out, err := c.evalOrPlainEvaluator().NegNew(ct.ct)
	if err != nil {
		return nil, apperr.NewFheCryptoError("negate", err)
	}
	return &Ciphertext{ct: out}, nil
}

// Mul returns ct1 * ct2, slot-wise, relinearized under the joint
// multiplication key. Requires InstallJointRelinKey to have run.
func (c *Context) Mul(ct1, ct2 *Ciphertext) (*Ciphertext, error) {
	if c.evaluator == nil {
		return nil, apperr.NewFheCryptoError("mul", errNoRelinKey)
	}
	out, err := c.evaluator.MulRelinNew(ct1.ct, ct2.ct)
	if err != nil {
		return nil, apperr.NewFheCryptoError("mul", err)
	}
	return &Ciphertext{ct: out}, nil
}

// MulPlain returns ct * pt, slot-wise. Does not require a relin key.
func (c *Context) MulPlain(ct *Ciphertext, pt *Plaintext) (*Ciphertext, error) {
	out, err := c.evalOrPlainEvaluator().MulNew(ct.ct, pt.pt)
	if err != nil {
		return nil, apperr.NewFheCryptoError("mul_plain", err)
	}
	return &Ciphertext{ct: out}, nil
}

// evalOrPlainEvaluator returns an evaluator usable for additive/negate ops
// even before the joint relin key is installed (those ops need no eval
// key), falling back to a keyless evaluator.
func (c *Context) evalOrPlainEvaluator() *bgv.Evaluator {
	if c.evaluator != nil {
		return c.evaluator
	}
	return bgv.NewEvaluator(c.Params, rlwe.NewMemEvaluationKeySet(nil))
}

var (
	errNoJointKey = fheErr("joint public key not installed")
	errNoRelinKey = fheErr("joint relinearization key not installed")
)

type fheErr string

func (e fheErr) Error() string { return string(e) }
