// Package fhecrypto is the crypto primitive adapter. It binds the engine's
// narrow FHE contract to github.com/tuneinsight/lattigo/v5, using the bgv
// (packed-integer BFV-style) scheme and the multiparty package's N-of-N
// collective-key and collective-decryption protocols.
//
// No function in this package ever decrypts a single player's raw action
// vector; only aggregated vectors and role ciphertexts are ever threshold
// decrypted — debug single-party decryption stays permanently disabled,
// not a runtime flag.
package fhecrypto

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"
	"github.com/tuneinsight/lattigo/v5/ring"
	"github.com/tuneinsight/lattigo/v5/schemes/bgv"

	"github.com/maFHEa/engine/internal/apperr"
)

// PlaintextModulus is the chosen prime ≥ 65537 plaintext coefficient modulus.
const PlaintextModulus = 65537

// Context is the process-wide handle bound to one game's lattice ring.
// Immutable after NewContext returns except for the one-time installation
// of the joint public key after DKG round 1 and of the joint
// relinearization key at the end of DKG round 3.
type Context struct {
	Params   bgv.Parameters
	NumSlots int
	NumPlayers int

	encoder   *bgv.Encoder
	evaluator *bgv.Evaluator // nil until the joint relin key is installed

	pkgProto multiparty.PublicKeyGenProtocol
	rkgProto multiparty.RelinearizationKeyGenProtocol
	cksProto multiparty.KeySwitchProtocol

	jointPublicKey *rlwe.PublicKey
	jointRelinKey  *rlwe.RelinearizationKey
}

// NewContext creates the ring, encoder and protocol objects for a game with
// numPlayers parties. Reference lattice parameters: poly modulus degree
// 8192 (LogN=13), plaintext modulus 65537, multiplicative depth 2,
// multiparty noise-flooding enabled.
func NewContext(numPlayers int) (*Context, error) {
	lit := bgv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{54, 54, 54},
		LogP:             []int{55},
		PlaintextModulus: PlaintextModulus,
	}
	params, err := bgv.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, apperr.NewFheCryptoError("new_context", err)
	}

	encoder := bgv.NewEncoder(params)
	pkgProto := multiparty.NewPublicKeyGenProtocol(params.Parameters)
	rkgProto := multiparty.NewRelinearizationKeyGenProtocol(params.Parameters)

	noise := ring.DiscreteGaussian{Sigma: 1 << 30, Bound: 6 * (1 << 30)} // noise flooding for multiparty decryption
	cksProto, err := multiparty.NewKeySwitchProtocol(params.Parameters, noise)
	if err != nil {
		return nil, apperr.NewFheCryptoError("new_context", err)
	}

	return &Context{
		Params:     params,
		NumSlots:   params.MaxSlots(),
		NumPlayers: numPlayers,
		encoder:    encoder,
		pkgProto:   pkgProto,
		rkgProto:   rkgProto,
		cksProto:   cksProto,
	}, nil
}

// InstallJointRelinKey installs the joint multiplication key produced at
// the end of DKG round 3. Every party calls this independently with the
// identical final combined key; it must be called exactly once per context
// before any Mul.
func (c *Context) InstallJointRelinKey(jmk *rlwe.RelinearizationKey) {
	c.jointRelinKey = jmk
	evk := rlwe.NewMemEvaluationKeySet(jmk)
	c.evaluator = bgv.NewEvaluator(c.Params, evk)
}

// InstallJointPublicKey records the JPK produced at the end of DKG round 1.
func (c *Context) InstallJointPublicKey(jpk *rlwe.PublicKey) {
	c.jointPublicKey = jpk
}

func (c *Context) JointPublicKey() *rlwe.PublicKey      { return c.jointPublicKey }
func (c *Context) JointRelinKey() *rlwe.RelinearizationKey { return c.jointRelinKey }

// GenLocalSecretKey generates party i's local secret key share. sk_i never
// leaves the owning party in any form.
func (c *Context) GenLocalSecretKey() *rlwe.SecretKey {
	kg := rlwe.NewKeyGenerator(c.Params.Parameters)
	return kg.GenSecretKeyNew()
}
