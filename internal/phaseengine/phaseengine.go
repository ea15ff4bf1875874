// Package phaseengine drives the night/day/vote game state machine —
// homomorphic kill/vote tallying and end-of-game full reveal — from the
// Coordinator's point of view. Only the Coordinator
// runs an Engine; peers answer its RPCs (request_action, reveal_role,
// complete_role_decryption, partial_decrypt) passively.
package phaseengine

import (
	"context"

	"github.com/maFHEa/engine/internal/action"
	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/threshold"
	"github.com/maFHEa/engine/internal/vectorfactory"
)

// Phase names the current state in the setup → night → day → vote →
// {night | end} cycle.
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhaseNight Phase = "night"
	PhaseDay   Phase = "day"
	PhaseVote  Phase = "vote"
	PhaseEnd   Phase = "end"
)

// Winner names which side the game ended with, or WinnerNone while play
// continues.
type Winner string

const (
	WinnerNone     Winner = ""
	WinnerCitizens Winner = "citizens"
	WinnerMafia    Winner = "mafia"
)

// Player is one seat's live-play state, as tracked by the Coordinator.
type Player struct {
	Index   int
	Address string
	Alive   bool
}

// Engine holds one game's mutable play state and the services it drives.
// Engine is the only mutator of day/phase/players/last_*; everything else
// treats its fields as read-only snapshots.
type Engine struct {
	cfg *config.Config

	collector  *action.Collector
	thresholds *threshold.Service
	clients    map[int]*rpcclient.Client

	Day            int
	Phase          Phase
	Players        []Player
	LastKilled     []int
	LastVotedOut   *int
	LastVoteCounts []int64

	// encryptedRoles is the Coordinator's retained ordered list from role
	// assignment (internal/roleassign.Assigner.AllEncryptedRoles), consumed
	// only by end-of-game full reveal.
	encryptedRoles []*fhecrypto.Ciphertext
}

// New returns an Engine for a freshly-assigned game: players alive, day 0,
// phase setup.
func New(cfg *config.Config, collector *action.Collector, thresholds *threshold.Service, clients map[int]*rpcclient.Client, players []Player, encryptedRoles []*fhecrypto.Ciphertext) *Engine {
	return &Engine{
		cfg:            cfg,
		collector:      collector,
		thresholds:     thresholds,
		clients:        clients,
		Phase:          PhaseSetup,
		Players:        players,
		encryptedRoles: encryptedRoles,
	}
}

// Survivors returns the indices of every currently-alive player, for
// callers outside this package (internal/session's own action prompts)
// that need the same view ExecuteNight/ExecuteVote build internally.
func (e *Engine) Survivors() []int {
	return e.survivors()
}

func (e *Engine) survivors() []int {
	out := make([]int, 0, len(e.Players))
	for _, p := range e.Players {
		if p.Alive {
			out = append(out, p.Index)
		}
	}
	return out
}

func (e *Engine) dead() []int {
	out := make([]int, 0, len(e.Players))
	for _, p := range e.Players {
		if !p.Alive {
			out = append(out, p.Index)
		}
	}
	return out
}

func (e *Engine) alivePeers() []action.Peer {
	out := make([]action.Peer, 0, len(e.Players))
	for _, p := range e.Players {
		if p.Index == 0 || !p.Alive {
			continue
		}
		out = append(out, action.Peer{Index: p.Index, Address: p.Address})
	}
	return out
}

func (e *Engine) thresholdPeers() []threshold.Peer {
	out := make([]threshold.Peer, 0, len(e.Players))
	for _, p := range e.Players {
		if p.Index == 0 {
			continue
		}
		out = append(out, threshold.Peer{Index: p.Index, Address: p.Address})
	}
	return out
}

func (e *Engine) broadcastUpdate(ctx context.Context, phase Phase, message string) error {
	for _, p := range e.Players {
		if p.Index == 0 {
			continue
		}
		client := e.clients[p.Index]
		if client == nil {
			continue
		}
		if err := client.Update(ctx, rpcclient.UpdateRequest{
			Phase:       string(phase),
			Message:     message,
			Survivors:   e.survivors(),
			DeadPlayers: e.dead(),
		}); err != nil {
			return apperr.NewNetworkError(p.Index, err)
		}
	}
	return nil
}

// ExecuteNight runs the night phase: collect triplets, aggregate attacks
// and heals homomorphically, compute killed = A ⊙ (1-H), and fan-out
// decrypt only that aggregate.
func (e *Engine) ExecuteNight(ctx context.Context, req NightRequest) error {
	e.Day++
	e.Phase = PhaseNight
	message := "Night has begun."
	if err := e.broadcastUpdate(ctx, PhaseNight, message); err != nil {
		return err
	}

	triplets, err := e.collector.CollectAll(ctx, len(e.Players), action.Request{
		Phase:       "night",
		Message:     message,
		Survivors:   e.survivors(),
		DeadPlayers: e.dead(),
		Peers:       e.alivePeers(),
		LocalIndex:  0,
		LocalTarget: req.LocalTarget,
		LocalRole:   req.LocalRole,
		LocalAlive:  e.Players[0].Alive,
	})
	if err != nil {
		return err
	}

	totalAttacks := triplets[0].Attack
	totalHeals := triplets[0].Heal
	for _, t := range triplets[1:] {
		totalAttacks, err = e.fheCtx().Add(totalAttacks, t.Attack)
		if err != nil {
			return apperr.NewFheCryptoError("aggregate_attacks", err)
		}
		totalHeals, err = e.fheCtx().Add(totalHeals, t.Heal)
		if err != nil {
			return apperr.NewFheCryptoError("aggregate_heals", err)
		}
	}

	killedCt, err := e.computeKilled(totalAttacks, totalHeals)
	if err != nil {
		return err
	}

	killedVec, err := e.thresholds.FanOutDecrypt(ctx, killedCt)
	if err != nil {
		return err
	}

	e.LastKilled = nil
	for i, k := range killedVec {
		if i >= len(e.Players) {
			break
		}
		if k >= 1 && e.Players[i].Alive {
			e.Players[i].Alive = false
			e.LastKilled = append(e.LastKilled, i)
		}
	}

	if req.PoliceTarget >= 0 && e.Players[req.PoliceIndex].Alive {
		if _, err := e.thresholds.Investigate(ctx, e.encryptedRoles[req.PoliceTarget]); err != nil {
			return err
		}
	}

	return nil
}

// NightRequest carries the Coordinator's own player action plus its
// optional police-investigation target for one night phase.
type NightRequest struct {
	LocalTarget  int
	LocalRole    roles.Role
	PoliceIndex  int
	PoliceTarget int // -1 if no investigation was requested this night
}

// computeKilled implements killed = A ⊙ (1 - H) over the N-slot
// aggregates, using the joint context's plain-add/negate/mul primitives.
func (e *Engine) computeKilled(totalAttacks, totalHeals *fhecrypto.Ciphertext) (*fhecrypto.Ciphertext, error) {
	ones := make([]int64, e.fheCtx().NumSlots)
	for i := range ones {
		ones[i] = 1
	}
	onesPt, err := e.fheCtx().Encode(ones)
	if err != nil {
		return nil, apperr.NewFheCryptoError("compute_killed", err)
	}

	negHeals, err := e.fheCtx().Negate(totalHeals)
	if err != nil {
		return nil, apperr.NewFheCryptoError("compute_killed", err)
	}
	oneMinusH, err := e.fheCtx().AddPlain(negHeals, onesPt)
	if err != nil {
		return nil, apperr.NewFheCryptoError("compute_killed", err)
	}
	killed, err := e.fheCtx().Mul(totalAttacks, oneMinusH)
	if err != nil {
		return nil, apperr.NewFheCryptoError("compute_killed", err)
	}
	return killed, nil
}

// ExecuteDay runs the day phase: an untimed discussion layer with no
// cryptography, just a phase-transition broadcast.
func (e *Engine) ExecuteDay(ctx context.Context) error {
	e.Phase = PhaseDay
	return e.broadcastUpdate(ctx, PhaseDay, "Day discussion phase.")
}

// ExecuteVote runs the vote phase: aggregate vote triplets, fan-out
// decrypt the tally, and apply the elimination rule (unique max wins;
// any tie or all-zero tally eliminates nobody).
func (e *Engine) ExecuteVote(ctx context.Context, localTarget int, cache map[int]vectorfactory.Triplet) error {
	e.Phase = PhaseVote
	message := "Vote phase: eliminate a suspected Mafia member."
	if err := e.broadcastUpdate(ctx, PhaseVote, message); err != nil {
		return err
	}

	triplets, err := e.collector.CollectAll(ctx, len(e.Players), action.Request{
		Phase:       "vote",
		Message:     message,
		Survivors:   e.survivors(),
		DeadPlayers: e.dead(),
		Peers:       e.alivePeers(),
		LocalIndex:  0,
		LocalTarget: localTarget,
		LocalAlive:  e.Players[0].Alive,
		Cache:       cache,
	})
	if err != nil {
		return err
	}

	totalVotes := triplets[0].Vote
	for _, t := range triplets[1:] {
		totalVotes, err = e.fheCtx().Add(totalVotes, t.Vote)
		if err != nil {
			return apperr.NewFheCryptoError("aggregate_votes", err)
		}
	}

	counts, err := e.thresholds.FanOutDecrypt(ctx, totalVotes)
	if err != nil {
		return err
	}
	e.LastVoteCounts = counts

	var max int64
	for _, c := range counts {
		if c > max {
			max = c
		}
	}

	e.LastVotedOut = nil
	if max > 0 {
		var top []int
		for i, c := range counts {
			if c == max {
				top = append(top, i)
			}
		}
		if len(top) == 1 {
			idx := top[0]
			e.Players[idx].Alive = false
			e.LastVotedOut = &idx
		}
	}

	return e.broadcastUpdate(ctx, PhaseVote, "Vote phase ended.")
}

// CheckWin asks every live peer to reveal its role in plaintext, tallies
// mafia vs non-mafia among the living, and decides the winner. localRole
// is the Coordinator's own (already known) role.
func (e *Engine) CheckWin(ctx context.Context, localRole roles.Role) (Winner, error) {
	mafiaAlive, nonMafiaAlive := 0, 0
	if e.Players[0].Alive {
		if localRole == roles.Mafia {
			mafiaAlive++
		} else {
			nonMafiaAlive++
		}
	}

	for _, p := range e.Players[1:] {
		if !p.Alive {
			continue
		}
		client := e.clients[p.Index]
		if client == nil {
			return WinnerNone, apperr.NewProtocolError("check_win: no client for peer")
		}
		resp, err := client.RevealRole(ctx)
		if err != nil {
			return WinnerNone, apperr.NewNetworkError(p.Index, err)
		}
		if resp.Role == roles.Mafia.String() {
			mafiaAlive++
		} else {
			nonMafiaAlive++
		}
	}

	switch {
	case mafiaAlive == 0:
		return WinnerCitizens, nil
	case nonMafiaAlive <= mafiaAlive:
		return WinnerMafia, nil
	default:
		return WinnerNone, nil
	}
}

// RevealAllRoles runs the end-of-game full reveal: for every player,
// fan-out decrypt its retained encrypted role (every peer
// participates unconditionally — there is no privacy left to protect once
// check_win has found a winner) and decode to a role. When cfg.RevealMode
// is relay, the relay protocol is used instead, exercising that primitive
// in production rather than only in its own tests.
func (e *Engine) RevealAllRoles(ctx context.Context) ([]roles.Role, error) {
	if e.encryptedRoles == nil {
		return nil, apperr.NewProtocolError("reveal_all_roles: no encrypted roles retained")
	}

	out := make([]roles.Role, len(e.encryptedRoles))
	for i, ct := range e.encryptedRoles {
		var vec []int64
		var err error
		if e.cfg != nil && e.cfg.RevealMode == config.RevealModeRelay {
			vec, err = e.thresholds.RelayDecrypt(ctx, ct, e.thresholdPeers())
		} else {
			vec, err = e.thresholds.FanOutDecrypt(ctx, ct)
		}
		if err != nil {
			return nil, err
		}
		out[i] = roles.FromOneHot(vec[:roles.NumRoleTypes])
	}
	return out, nil
}

func (e *Engine) fheCtx() *fhecrypto.Context { return e.thresholds.Ctx() }
