// Package roleassign shuffles the closed role multiset once, encrypts
// every role individually under the joint public key, publishes the
// ordered ciphertext list to every peer, and helps each party privately
// reconstruct only its own role.
package roleassign

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"golang.org/x/sync/errgroup"

	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/threshold"
)

// Peer is the minimal addressing view this package needs of the roster.
type Peer struct {
	Index   int
	Address string
}

// Assigner holds one party's role-assignment state for one game. Every
// party (Coordinator and peers) runs the same type: the Coordinator also
// calls GenerateAndDistribute; every party, including the Coordinator,
// answers HandleBlindRoleAssignment/HandleCompleteRoleDecryption the same
// way when another party's role-assignment flow asks it to.
type Assigner struct {
	ctx        *fhecrypto.Context
	sk         *rlwe.SecretKey
	selfIndex  int
	numPlayers int
	clients    map[int]*rpcclient.Client
	thr        *threshold.Service

	mu sync.Mutex

	// myEncryptedRole is this party's own E_i, learned via
	// blind_role_assignment and consumed by complete_role_decryption.
	myEncryptedRole *fhecrypto.Ciphertext
	myRole          roles.Role

	// allEncryptedRoles is retained only by the Coordinator, to drive
	// end-of-game full reveal.
	allEncryptedRoles []*fhecrypto.Ciphertext
}

// New returns an Assigner bound to one party's crypto context and secret
// key share.
func New(ctx *fhecrypto.Context, sk *rlwe.SecretKey, selfIndex, numPlayers int, clients map[int]*rpcclient.Client, thr *threshold.Service) *Assigner {
	return &Assigner{
		ctx:        ctx,
		sk:         sk,
		selfIndex:  selfIndex,
		numPlayers: numPlayers,
		clients:    clients,
		thr:        thr,
		myRole:     roles.RoleUnknown,
	}
}

// MyRole returns this party's own role, once privately revealed. Zero
// value (RoleUnknown) before that.
func (a *Assigner) MyRole() roles.Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.myRole
}

// AllEncryptedRoles returns the full ordered ciphertext list the
// Coordinator retained for end-of-game reveal (nil on every other party).
func (a *Assigner) AllEncryptedRoles() []*fhecrypto.Ciphertext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allEncryptedRoles
}

// SetClients (re)points this Assigner at a fresh set of peer clients,
// needed once internal/rpc's blind_role_assignment handler learns every
// peer's address — the DKG handshake that builds this Assigner runs
// before any address is known.
func (a *Assigner) SetClients(clients map[int]*rpcclient.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients = clients
}

func oneHotVector(r roles.Role) []int64 {
	oh := r.ToOneHot()
	vec := make([]int64, roles.NumRoleTypes)
	for i, v := range oh {
		vec[i] = v
	}
	return vec
}

// seededShuffleRand derives a math/rand source from crypto/rand, so the
// Coordinator's shuffle is unpredictable to any observer without needing a
// full CSPRNG per draw (the permutation itself, not per-call entropy, is
// the only thing that must stay secret, and it is never transmitted).
func seededShuffleRand() (*mathrand.Rand, error) {
	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return nil, apperr.NewFheCryptoError("role_shuffle_seed", err)
	}
	seed := int64(binary.BigEndian.Uint64(seedBytes[:]))
	return mathrand.New(mathrand.NewSource(seed)), nil
}

// GenerateAndDistribute runs the full Coordinator-side flow: build and
// shuffle the role multiset, encrypt every role,
// publish the ordered list to every peer, privately decrypt the
// Coordinator's own role via fan-out, then help every peer privately
// decrypt its own role in turn. Returns the Coordinator's own role; the
// full encrypted list is retained internally for end-of-game reveal.
func (a *Assigner) GenerateAndDistribute(ctx context.Context, peers []Peer) (roles.Role, error) {
	multiset, err := roles.BuildMultiset(a.numPlayers)
	if err != nil {
		return roles.RoleUnknown, apperr.NewGameRuleError(err.Error())
	}
	rnd, err := seededShuffleRand()
	if err != nil {
		return roles.RoleUnknown, err
	}
	roles.Shuffle(multiset, rnd)

	encrypted := make([]*fhecrypto.Ciphertext, a.numPlayers)
	for i, role := range multiset {
		ct, err := a.ctx.EncryptVector(oneHotVector(role))
		if err != nil {
			return roles.RoleUnknown, apperr.NewDkgError("role_assignment", err)
		}
		encrypted[i] = ct
	}

	a.mu.Lock()
	a.allEncryptedRoles = encrypted
	a.myEncryptedRole = encrypted[a.selfIndex]
	a.mu.Unlock()

	ownVec, err := a.thr.FanOutDecrypt(ctx, encrypted[a.selfIndex])
	if err != nil {
		return roles.RoleUnknown, apperr.NewReconstructionError("role_assignment", err)
	}
	ownRole := roles.FromOneHot(ownVec[:roles.NumRoleTypes])
	a.mu.Lock()
	a.myRole = ownRole
	a.mu.Unlock()

	wires := make([]string, len(encrypted))
	for i, ct := range encrypted {
		wire, err := ct.Serialize()
		if err != nil {
			return roles.RoleUnknown, apperr.NewDkgError("role_assignment", err)
		}
		wires[i] = wire
	}
	jpkWire, err := fhecrypto.SerializePublicKey(a.ctx.JointPublicKey())
	if err != nil {
		return roles.RoleUnknown, apperr.NewDkgError("role_assignment", err)
	}

	addresses := make([]string, a.numPlayers)
	for _, p := range peers {
		addresses[p.Index] = p.Address
	}

	if err := a.publishToAll(ctx, peers, wires, jpkWire, addresses); err != nil {
		return roles.RoleUnknown, err
	}
	if err := a.revealToEachPeer(ctx, peers, encrypted, wires); err != nil {
		return roles.RoleUnknown, err
	}

	return ownRole, nil
}

func (a *Assigner) publishToAll(ctx context.Context, peers []Peer, wires []string, jpkWire string, addresses []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			client := a.clients[peer.Index]
			if client == nil {
				return apperr.NewProtocolError("blind_role_assignment: no client for peer")
			}
			return client.BlindRoleAssignment(gctx, rpcclient.BlindRoleAssignmentRequest{
				MyIndex:         peer.Index,
				EncryptedRoles:  wires,
				JointPublicKey:  jpkWire,
				PlayerAddresses: addresses,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.NewReconstructionError("role_assignment", err)
	}
	return nil
}

// revealToEachPeer runs the private-reveal step for every i != selfIndex:
// collect a main partial of E_i from every party except i (including this
// Coordinator), then send those partials to peer i so it can add its own
// lead partial and fuse. This Assigner's own contribution toward another
// party's role is always a main partial — only the party that will itself
// fuse ever computes a lead partial, exactly mirroring
// internal/threshold.Service.FanOutDecrypt's requester/helper split.
func (a *Assigner) revealToEachPeer(ctx context.Context, peers []Peer, encrypted []*fhecrypto.Ciphertext, wires []string) error {
	for _, target := range peers {
		partials := make([]string, 0, a.numPlayers-1)

		own, err := a.ctx.PartialDecryptMain(encrypted[target.Index], a.sk)
		if err != nil {
			return apperr.NewReconstructionError("role_assignment", err)
		}
		ownWire, err := own.Serialize()
		if err != nil {
			return apperr.NewReconstructionError("role_assignment", err)
		}
		partials = append(partials, ownWire)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, helper := range peers {
			if helper.Index == target.Index {
				continue
			}
			helper := helper
			g.Go(func() error {
				client := a.clients[helper.Index]
				resp, err := client.PartialDecrypt(gctx, rpcclient.PartialDecryptRequest{
					Ciphertext: wires[target.Index],
					IsLead:     false,
				})
				if err != nil {
					return apperr.NewNetworkError(helper.Index, err)
				}
				mu.Lock()
				partials = append(partials, resp.PartialCiphertext)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return apperr.NewReconstructionError("role_assignment", err)
		}

		client := a.clients[target.Index]
		if err := client.CompleteRoleDecryption(ctx, rpcclient.CompleteRoleDecryptionRequest{PartialCiphertexts: partials}); err != nil {
			return apperr.NewReconstructionError("role_assignment", err)
		}
	}
	return nil
}

// HandleBlindRoleAssignment is the peer side of blind_role_assignment: it
// records this party's own encrypted role from the published ordered
// list, to be consumed by the later complete_role_decryption call.
func (a *Assigner) HandleBlindRoleAssignment(encryptedRoleWires []string) error {
	if a.selfIndex < 0 || a.selfIndex >= len(encryptedRoleWires) {
		return apperr.NewProtocolError("blind_role_assignment: index out of range")
	}
	ct, err := fhecrypto.DeserializeCiphertext(encryptedRoleWires[a.selfIndex])
	if err != nil {
		return apperr.NewProtocolError("blind_role_assignment: bad ciphertext")
	}
	a.mu.Lock()
	a.myEncryptedRole = ct
	a.mu.Unlock()
	return nil
}

// HandleCompleteRoleDecryption is the peer side of
// complete_role_decryption: partialWires are every other party's main
// partial of this party's own E_i. This party adds its own lead partial,
// fuses, and decodes — learning its role without any other party ever
// seeing the plaintext.
func (a *Assigner) HandleCompleteRoleDecryption(partialWires []string) (roles.Role, error) {
	a.mu.Lock()
	ct := a.myEncryptedRole
	a.mu.Unlock()
	if ct == nil {
		return roles.RoleUnknown, apperr.NewProtocolError("complete_role_decryption: no encrypted role on file")
	}

	parts := make([]*fhecrypto.PartialDecryption, 0, len(partialWires)+1)
	for _, w := range partialWires {
		part, err := fhecrypto.DeserializeKeySwitchShare(w)
		if err != nil {
			return roles.RoleUnknown, apperr.NewReconstructionError("role_assignment", err)
		}
		parts = append(parts, part)
	}
	lead, err := a.ctx.PartialDecryptLead(ct, a.sk)
	if err != nil {
		return roles.RoleUnknown, apperr.NewReconstructionError("role_assignment", err)
	}
	parts = append(parts, lead)

	pt, err := a.ctx.FusionDecrypt(ct, parts)
	if err != nil {
		return roles.RoleUnknown, apperr.NewReconstructionError("role_assignment", err)
	}
	vec, err := a.ctx.Decode(pt)
	if err != nil {
		return roles.RoleUnknown, apperr.NewReconstructionError("role_assignment", err)
	}

	role := roles.FromOneHot(vec[:roles.NumRoleTypes])
	a.mu.Lock()
	a.myRole = role
	a.mu.Unlock()
	return role, nil
}
