// Package roles implements the bijection between the four Mafia roles and
// their 4-dim one-hot encoding, and the per-player-count role multiset.
package roles

import (
	"fmt"
	"math/rand"

	"github.com/maFHEa/engine/internal/config"
)

// Role is a sum type over the four Mafia roles; RoleUnknown marks a
// decryption artifact or tampering and must never be treated as a valid
// assignment.
type Role int

const (
	Citizen Role = iota
	Mafia
	Doctor
	Police
	RoleUnknown
)

// NumRoleTypes is the one-hot vector width used for every role ciphertext.
const NumRoleTypes = 4

func (r Role) String() string {
	switch r {
	case Citizen:
		return "citizen"
	case Mafia:
		return "mafia"
	case Doctor:
		return "doctor"
	case Police:
		return "police"
	default:
		return "unknown"
	}
}

// ToOneHot returns the 4-vector with exactly one 1 at the role's slot.
func (r Role) ToOneHot() [NumRoleTypes]int64 {
	var v [NumRoleTypes]int64
	if r >= Citizen && r <= Police {
		v[r] = 1
	}
	return v
}

// FromOneHot decodes a plaintext 4-vector into a Role. If no slot is
// exactly 1 (decryption artifact or tampering) it returns RoleUnknown; the
// caller must treat that round as corrupt, never silently substitute a
// default role.
func FromOneHot(v []int64) Role {
	if len(v) < NumRoleTypes {
		return RoleUnknown
	}
	found := RoleUnknown
	seen := 0
	for i := 0; i < NumRoleTypes; i++ {
		if v[i] == 1 {
			found = Role(i)
			seen++
		} else if v[i] != 0 {
			return RoleUnknown
		}
	}
	if seen != 1 {
		return RoleUnknown
	}
	return found
}

// BuildMultiset returns the unshuffled list of roles for n players per the
// closed distribution table. The caller is responsible for shuffling;
// this function is deterministic given the table.
func BuildMultiset(n int) ([]Role, error) {
	dist, ok := config.RoleDistributionTable[n]
	if !ok {
		return nil, fmt.Errorf("no role distribution for %d players", n)
	}
	roles := make([]Role, 0, n)
	for i := 0; i < dist.Mafia; i++ {
		roles = append(roles, Mafia)
	}
	for i := 0; i < dist.Doctor; i++ {
		roles = append(roles, Doctor)
	}
	for i := 0; i < dist.Police; i++ {
		roles = append(roles, Police)
	}
	for i := 0; i < dist.Citizen; i++ {
		roles = append(roles, Citizen)
	}
	return roles, nil
}

// Shuffle performs an in-place Fisher-Yates shuffle using the supplied
// randomness source. The Coordinator is the only party that ever sees this
// permutation in plaintext; roles are encrypted immediately after.
func Shuffle(roles []Role, r *rand.Rand) {
	r.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})
}

// Multiset reduces a role slice to per-role counts, used to verify that a
// reveal is a permutation of the required closed role distribution.
func Multiset(rs []Role) map[Role]int {
	out := make(map[Role]int, NumRoleTypes)
	for _, r := range rs {
		out[r]++
	}
	return out
}
