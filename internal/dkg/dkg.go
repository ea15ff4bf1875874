// Package dkg implements the three-round distributed key generation
// protocol: a sequential public-key chain (round 1) followed by two
// parallel-fan-out-with-barrier rounds (2 and 3) that together install an
// identical (JPK, JMK) pair at every party.
//
// Session is the peer-side state a party (Coordinator or Agent) holds for
// one game's DKG run, driven by internal/rpc's handlers as RPCs arrive.
// Coordinator is the orchestration side, used only by whichever party
// drives the protocol (cmd/coordinator), calling out to every other
// party's RPC surface via internal/rpcclient.
package dkg

import (
	"context"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"golang.org/x/sync/errgroup"

	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/rpcclient"
)

// State is this party's position in the DKG state machine. There is no
// path backward — any error is fatal to the session; there is no
// resharing or retry once a round has started.
type State int

const (
	StateSetup State = iota
	StateRound1Pending
	StateRound2Pending
	StateRound3Pending
	StateReady
)

// installFinalKeyTag marks a generate_multmultkey call as the Coordinator
// broadcasting the already-combined JMK for installation, rather than a
// peer's own round-3 contribution request. Round 1's equivalent broadcast
// reuses dkg_round with RoundNumber < 0 (see HandleRound1).
const installFinalKeyTag = "__install__"

// Session is one party's DKG state for one game, held across every RPC
// internal/rpc's dkg_setup/dkg_round/generate_keyswitchgen/
// generate_multmultkey handlers dispatch to it. A party's ephemeral
// relin-key secret (ephSk) must survive between the round-2 and round-3
// calls, which is the only reason this type needs to be stateful at all.
type Session struct {
	mu sync.Mutex

	GameID      string
	NumPlayers  int
	PlayerIndex int
	State       State

	Ctx *fhecrypto.Context
	crs *fhecrypto.CRS
	sk  *rlwe.SecretKey

	pendingRound1Share *fhecrypto.KeySwitchGenShare // holds this party's ephSk between round 2 and round 3
}

// NewSession builds a fresh, unstarted session; HandleSetup drives it to
// StateRound1Pending.
func NewSession() *Session {
	return &Session{State: StateSetup}
}

// HandleSetup is the peer side of dkg_setup. The crypto_context wire
// payload is accepted but not required — bgv parameters are a pure
// function of numPlayers, so every party derives an identical *Context
// independently (see fhecrypto.NewContext).
func (s *Session) HandleSetup(gameID string, numPlayers, playerIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateSetup {
		return apperr.NewProtocolError("dkg_setup: session already started")
	}

	ctx, err := fhecrypto.NewContext(numPlayers)
	if err != nil {
		return apperr.NewDkgError("setup", err)
	}
	crs, err := fhecrypto.NewCRS(gameID)
	if err != nil {
		return apperr.NewDkgError("setup", err)
	}

	s.GameID = gameID
	s.NumPlayers = numPlayers
	s.PlayerIndex = playerIndex
	s.Ctx = ctx
	s.crs = crs
	s.sk = ctx.GenLocalSecretKey()
	s.State = StateRound1Pending
	return nil
}

// SecretKey returns this party's local secret key share, needed once DKG
// is Ready to drive internal/threshold and internal/roleassign. Never
// leaves the process.
func (s *Session) SecretKey() *rlwe.SecretKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sk
}

// Ready reports whether this session has installed both the joint public
// key and the joint relin key, i.e. whether internal/rpc may now safely
// construct internal/threshold and internal/roleassign services on top of
// this session's Ctx/SecretKey.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == StateReady
}

// HandleRound1 is the peer side of dkg_round — the round-1 key chain join.
// roundNumber < 0 signals the Coordinator's post-chain install broadcast:
// incomingWire is the finalized JPK itself (not a share), installed
// directly with no further computation, and echoed back unchanged so the
// RPC's declared "next aggregate public key" contract still holds.
func (s *Session) HandleRound1(roundNumber int, incomingWire string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roundNumber < 0 {
		jpk, err := fhecrypto.DeserializePublicKey(incomingWire)
		if err != nil {
			return "", apperr.NewDkgError("round1_install", err)
		}
		s.Ctx.InstallJointPublicKey(jpk)
		return incomingWire, nil
	}

	if s.State != StateRound1Pending {
		return "", apperr.NewProtocolError("dkg_round: not awaiting round 1")
	}

	incoming, err := fhecrypto.DeserializePublicKeyGenShare(incomingWire)
	if err != nil {
		return "", apperr.NewDkgError("round1", err)
	}
	own, err := s.Ctx.GenPublicKeyShare(s.sk, s.crs)
	if err != nil {
		return "", apperr.NewDkgError("round1", err)
	}
	aggregated, err := s.Ctx.AggregatePublicKeyShares(incoming, own)
	if err != nil {
		return "", apperr.NewDkgError("round1", err)
	}

	s.State = StateRound2Pending
	return aggregated.Serialize()
}

// HandleGenerateKeySwitchGen is the peer side of generate_keyswitchgen
// (round 2). Every party generates its key-switch key independently from
// its own secret key — prevKeyWire is accepted for protocol-shape symmetry
// but this party's share does not depend on it.
func (s *Session) HandleGenerateKeySwitchGen(prevKeyWire string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateRound2Pending {
		return "", apperr.NewProtocolError("generate_keyswitchgen: not awaiting round 2")
	}

	share, err := s.Ctx.GenerateKeySwitchGen(s.sk, s.crs)
	if err != nil {
		return "", apperr.NewDkgError("round2", err)
	}
	s.pendingRound1Share = share
	s.State = StateRound3Pending
	return share.Serialize()
}

// HandleGenerateMultMultKey is the peer side of generate_multmultkey.
// keyTag == installFinalKeyTag signals the Coordinator's post-round-3
// broadcast of the already-combined JMK: combinedKeyWire is the final
// key, installed directly and echoed back. Otherwise combinedKeyWire is
// KS* and this party produces its own round-3 contribution MM_i.
func (s *Session) HandleGenerateMultMultKey(combinedKeyWire, keyTag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keyTag == installFinalKeyTag {
		jmk, err := fhecrypto.DeserializeRelinKey(combinedKeyWire)
		if err != nil {
			return "", apperr.NewDkgError("round3_install", err)
		}
		s.Ctx.InstallJointRelinKey(jmk)
		s.State = StateReady
		return combinedKeyWire, nil
	}

	if s.State != StateRound3Pending {
		return "", apperr.NewProtocolError("generate_multmultkey: not awaiting round 3")
	}
	if s.pendingRound1Share == nil {
		return "", apperr.NewProtocolError("generate_multmultkey: missing round-1 ephemeral key")
	}

	combined, err := fhecrypto.DeserializeKeySwitchGenShare(combinedKeyWire)
	if err != nil {
		return "", apperr.NewDkgError("round3", err)
	}
	share, err := s.Ctx.GenerateMultMultKey(s.sk, s.pendingRound1Share.EphemeralSecretKey(), combined)
	if err != nil {
		return "", apperr.NewDkgError("round3", err)
	}
	return share.Serialize()
}

// Peer is the minimal addressing view Coordinator needs of the roster.
type Peer struct {
	Index   int
	Address string
}

// Coordinator drives the full three-round protocol across every other
// party — orchestration is centralized, but every party's cryptographic
// contribution is symmetric. It holds its own Session for self-
// contribution, exactly like every other party's local RPC handler does.
type Coordinator struct {
	self    *Session
	clients map[int]*rpcclient.Client
	peers   []Peer
}

// NewCoordinator builds a Coordinator for a fresh game. peers must list
// every OTHER party in the fixed round-1 chain order; clients must have
// one entry per peer's Index.
func NewCoordinator(peers []Peer, clients map[int]*rpcclient.Client) *Coordinator {
	return &Coordinator{self: NewSession(), clients: clients, peers: peers}
}

// Run executes setup and all three rounds, returning the Coordinator's own
// ready *fhecrypto.Context and secret key. Any peer failure is fatal and
// surfaces as a DkgError — there is no partial-quorum fallback.
func (c *Coordinator) Run(ctx context.Context, gameID string, numPlayers int) (*fhecrypto.Context, *rlwe.SecretKey, error) {
	if err := c.self.HandleSetup(gameID, numPlayers, 0); err != nil {
		return nil, nil, err
	}

	selfCtxWire, err := c.self.Ctx.SerializeParams()
	if err != nil {
		return nil, nil, apperr.NewDkgError("setup", err)
	}
	if err := c.broadcastSetup(ctx, gameID, numPlayers, selfCtxWire); err != nil {
		return nil, nil, err
	}

	jpk, err := c.runRound1(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	c.self.Ctx.InstallJointPublicKey(jpk)

	if err := c.installRound1(ctx, jpk); err != nil {
		return nil, nil, err
	}

	jmk, err := c.runRounds2And3(ctx)
	if err != nil {
		return nil, nil, err
	}
	c.self.Ctx.InstallJointRelinKey(jmk)

	if err := c.installRound3(ctx, jmk); err != nil {
		return nil, nil, err
	}

	c.self.mu.Lock()
	c.self.State = StateReady
	c.self.mu.Unlock()

	return c.self.Ctx, c.self.sk, nil
}

func (c *Coordinator) broadcastSetup(ctx context.Context, gameID string, numPlayers int, ctxWire string) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range c.peers {
		peer := peer
		idx := i + 1 // dkg_setup player_index is 1-based for peers, 0 is the Coordinator
		g.Go(func() error {
			client := c.clients[peer.Index]
			if client == nil {
				return apperr.NewProtocolError("dkg_setup: no client for peer")
			}
			return client.DkgSetup(gctx, rpcclient.DkgSetupRequest{
				GameID:        gameID,
				CryptoContext: ctxWire,
				NumPlayers:    numPlayers,
				PlayerIndex:   idx,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.NewDkgError("setup", err)
	}
	return nil
}

// runRound1 drives the strictly-sequential key chain: the Coordinator's
// own share seeds the chain, then each peer in order joins, threading the
// running aggregate from response to request. The final aggregate is
// finalized into the actual JPK.
func (c *Coordinator) runRound1(ctx context.Context, gameID string) (*rlwe.PublicKey, error) {
	running, err := c.self.Ctx.GenPublicKeyShare(c.self.sk, c.self.crs)
	if err != nil {
		return nil, apperr.NewDkgError("round1", err)
	}

	for _, peer := range c.peers {
		wire, err := running.Serialize()
		if err != nil {
			return nil, apperr.NewDkgError("round1", err)
		}
		client := c.clients[peer.Index]
		if client == nil {
			return nil, apperr.NewDkgError("round1", apperr.NewProtocolError("no client for peer"))
		}
		resp, err := client.DkgRound(ctx, rpcclient.DkgRoundRequest{
			RoundNumber:      1,
			PreviousKeyShare: wire,
		})
		if err != nil {
			return nil, apperr.NewDkgError("round1", err)
		}
		running, err = fhecrypto.DeserializePublicKeyGenShare(resp.NextKeyShare)
		if err != nil {
			return nil, apperr.NewDkgError("round1", err)
		}
	}

	jpk, err := c.self.Ctx.FinalizeJointPublicKey(c.self.crs, running)
	if err != nil {
		return nil, apperr.NewDkgError("round1", err)
	}
	return jpk, nil
}

// installRound1 broadcasts the finalized JPK to every peer in parallel via
// the RoundNumber<0 sentinel (see Session.HandleRound1).
func (c *Coordinator) installRound1(ctx context.Context, jpk *rlwe.PublicKey) error {
	wire, err := fhecrypto.SerializePublicKey(jpk)
	if err != nil {
		return apperr.NewDkgError("round1_install", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range c.peers {
		client := c.clients[peer.Index]
		g.Go(func() error {
			_, err := client.DkgRound(gctx, rpcclient.DkgRoundRequest{RoundNumber: -1, PreviousKeyShare: wire})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.NewDkgError("round1_install", err)
	}
	return nil
}

// runRounds2And3 executes both relinearization-key rounds. Round 2's
// per-peer requests fan out in parallel; the Coordinator waits at the
// barrier for every contribution before combining into KS* and fanning
// round 3 out the same way.
func (c *Coordinator) runRounds2And3(ctx context.Context) (*rlwe.RelinearizationKey, error) {
	selfRound1, err := c.self.Ctx.GenerateKeySwitchGen(c.self.sk, c.self.crs)
	if err != nil {
		return nil, apperr.NewDkgError("round2", err)
	}

	var mu sync.Mutex
	round1Shares := []*fhecrypto.KeySwitchGenShare{selfRound1}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range c.peers {
		peer := peer
		g.Go(func() error {
			client := c.clients[peer.Index]
			resp, err := client.GenerateKeySwitchGen(gctx, rpcclient.GenerateKeySwitchGenRequest{
				GameID:  c.self.GameID,
				PrevKey: "",
			})
			if err != nil {
				return err
			}
			share, err := fhecrypto.DeserializeKeySwitchGenShare(resp.KeySwitchShare)
			if err != nil {
				return err
			}
			mu.Lock()
			round1Shares = append(round1Shares, share)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.NewDkgError("round2", err)
	}

	combined, err := c.self.Ctx.CombineKeySwitchKeys(round1Shares)
	if err != nil {
		return nil, apperr.NewDkgError("round2", err)
	}
	combinedWire, err := combined.Serialize()
	if err != nil {
		return nil, apperr.NewDkgError("round2", err)
	}

	selfRound2, err := c.self.Ctx.GenerateMultMultKey(c.self.sk, selfRound1.EphemeralSecretKey(), combined)
	if err != nil {
		return nil, apperr.NewDkgError("round3", err)
	}

	var mu2 sync.Mutex
	round2Shares := []*fhecrypto.MultMultKeyShare{selfRound2}

	g2, gctx2 := errgroup.WithContext(ctx)
	for _, peer := range c.peers {
		peer := peer
		g2.Go(func() error {
			client := c.clients[peer.Index]
			resp, err := client.GenerateMultMultKey(gctx2, rpcclient.GenerateMultMultKeyRequest{
				GameID:      c.self.GameID,
				CombinedKey: combinedWire,
				KeyTag:      "round3",
			})
			if err != nil {
				return err
			}
			share, err := fhecrypto.DeserializeMultMultKeyShare(resp.MultMultShare)
			if err != nil {
				return err
			}
			mu2.Lock()
			round2Shares = append(round2Shares, share)
			mu2.Unlock()
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, apperr.NewDkgError("round3", err)
	}

	jmk, err := c.self.Ctx.CombineMultEvalKeys(combined, round2Shares)
	if err != nil {
		return nil, apperr.NewDkgError("round3", err)
	}
	return jmk, nil
}

// installRound3 broadcasts the finalized JMK to every peer via the
// installFinalKeyTag sentinel (see Session.HandleGenerateMultMultKey).
func (c *Coordinator) installRound3(ctx context.Context, jmk *rlwe.RelinearizationKey) error {
	wire, err := fhecrypto.SerializeRelinKey(jmk)
	if err != nil {
		return apperr.NewDkgError("round3_install", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range c.peers {
		client := c.clients[peer.Index]
		g.Go(func() error {
			_, err := client.GenerateMultMultKey(gctx, rpcclient.GenerateMultMultKeyRequest{
				GameID:      c.self.GameID,
				CombinedKey: wire,
				KeyTag:      installFinalKeyTag,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return apperr.NewDkgError("round3_install", err)
	}
	return nil
}
