// Package vectorfactory builds the encrypted N-dimensional action vectors
// every player submits every phase: exactly 3 ciphertexts (vote/attack/
// heal) every phase regardless of role or action. A Triplet's dummy slots
// are genuine zero-vector ciphertexts, not sentinels, so no observer can
// distinguish a real action from a no-op by looking at which slot is
// "missing" — there is no missing slot.
package vectorfactory

import (
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
)

// Factory builds action vectors against one game's joint context and
// player count.
type Factory struct {
	ctx        *fhecrypto.Context
	numPlayers int
}

// New returns a Factory bound to ctx. ctx must already have its joint
// public key installed — every vector this type produces is encrypted,
// never plaintext.
func New(ctx *fhecrypto.Context, numPlayers int) *Factory {
	return &Factory{ctx: ctx, numPlayers: numPlayers}
}

// Triplet is the three ciphertexts — vote, attack, heal — every player
// submits every phase.
type Triplet struct {
	Vote   *fhecrypto.Ciphertext
	Attack *fhecrypto.Ciphertext
	Heal   *fhecrypto.Ciphertext
}

// ZeroVector encrypts the all-zero N-vector.
func (f *Factory) ZeroVector() (*fhecrypto.Ciphertext, error) {
	return f.ctx.EncryptVector(make([]int64, f.numPlayers))
}

// OneHotVector encrypts the one-hot N-vector with a 1 at targetIndex.
func (f *Factory) OneHotVector(targetIndex int) (*fhecrypto.Ciphertext, error) {
	vec := make([]int64, f.numPlayers)
	vec[targetIndex] = 1
	return f.ctx.EncryptVector(vec)
}

// nightActionSlot picks which of the three ciphertext slots carries a
// role's real night-phase vector; "" means the role has nothing to submit
// at night (Police included — investigation is served separately, never
// through this triplet).
func nightActionSlot(role roles.Role) string {
	switch role {
	case roles.Mafia:
		return "attack"
	case roles.Doctor:
		return "heal"
	default:
		return ""
	}
}

// BuildHumanActionVectors builds the (vote, attack, heal) triplet for one
// player's submitted action this phase. target is the chosen player index,
// or -1 for no target (abstain, or a role with nothing to submit this
// phase); an index outside 0..numPlayers-1 is treated as -1. Exactly one slot carries target's real one-hot vector — the
// other two are independently generated zero-vector ciphertexts. Vote-
// phase actions always land in the Vote slot regardless of role; night-
// phase actions land in the slot nightActionSlot names for the player's
// role, or nowhere (an all-dummy triplet) if the role has no night action.
func (f *Factory) BuildHumanActionVectors(target int, role roles.Role, phase string) (Triplet, error) {
	slot := ""
	switch phase {
	case "vote":
		slot = "vote"
	case "night":
		slot = nightActionSlot(role)
	}

	var real *fhecrypto.Ciphertext
	var err error
	if target < 0 || target >= f.numPlayers || slot == "" {
		real, err = f.ZeroVector()
	} else {
		real, err = f.OneHotVector(target)
	}
	if err != nil {
		return Triplet{}, err
	}

	dummy1, err := f.ZeroVector()
	if err != nil {
		return Triplet{}, err
	}
	dummy2, err := f.ZeroVector()
	if err != nil {
		return Triplet{}, err
	}

	switch slot {
	case "vote":
		return Triplet{Vote: real, Attack: dummy1, Heal: dummy2}, nil
	case "attack":
		return Triplet{Vote: dummy1, Attack: real, Heal: dummy2}, nil
	case "heal":
		return Triplet{Vote: dummy1, Attack: dummy2, Heal: real}, nil
	default:
		return Triplet{Vote: real, Attack: dummy1, Heal: dummy2}, nil
	}
}
