// Package action gathers exactly one encrypted (vote, attack, heal) triplet
// from every player each phase. Peer requests are dispatched before the
// local player's triplet is encrypted; the local target itself is chosen by
// the caller before CollectAll runs, so reading the local player's input
// does not overlap the peer round-trips.
package action

import (
	"context"
	"sync"

	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/vectorfactory"
)

// Peer is the minimal addressing view this package needs of the roster.
type Peer struct {
	Index   int
	Address string
}

// Collector gathers one phase's worth of action triplets for one party's
// view of a game (the Coordinator gathers all N; a peer gathers none —
// only the Coordinator drives phases).
type Collector struct {
	factory *vectorfactory.Factory
	clients map[int]*rpcclient.Client
}

// New returns a Collector bound to factory's crypto context and a client
// for every peer keyed by index.
func New(factory *vectorfactory.Factory, clients map[int]*rpcclient.Client) *Collector {
	return &Collector{factory: factory, clients: clients}
}

// Request describes one phase's collection round.
type Request struct {
	Phase       string
	Message     string
	Survivors   []int
	DeadPlayers []int
	Peers       []Peer

	// LocalIndex is the Coordinator's own player slot; LocalTarget/LocalRole
	// drive its own triplet the same way vectorfactory builds any player's.
	// LocalTarget is -1 for abstain or a role with nothing to submit.
	LocalIndex  int
	LocalTarget int
	LocalRole   roles.Role
	LocalAlive  bool

	// Cache holds triplets already obtained for this phase (e.g. precomputed
	// during the discussion window); a cached entry is used as-is and its
	// peer is never re-queried.
	Cache map[int]vectorfactory.Triplet
}

// CollectAll runs one round of semi-ordered collection: peer RPCs are
// dispatched before the local triplet is built, then every
// dispatched call is awaited. A cached slot is used as-is. A slot whose
// peer is not queried or errors, and a local target outside the player
// range, becomes an all-zero triplet — the tally still composes soundly
// with no individual party singled out as having failed.
func (c *Collector) CollectAll(ctx context.Context, numPlayers int, req Request) ([]vectorfactory.Triplet, error) {
	triplets := make([]vectorfactory.Triplet, numPlayers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range req.Peers {
		if cached, ok := req.Cache[peer.Index]; ok {
			triplets[peer.Index] = cached
			continue
		}
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			triplet, err := c.requestPeerTriplet(ctx, peer, req)
			if err != nil {
				triplet, err = c.zeroTriplet()
				if err != nil {
					// The crypto context itself is broken; every slot will
					// fail identically, so there is nothing left to degrade
					// to. Leave this slot's zero value (nil ciphertexts) and
					// let the caller's own aggregation surface the error
					// when it tries to use it.
					return
				}
			}
			mu.Lock()
			triplets[peer.Index] = triplet
			mu.Unlock()
		}()
	}

	localTriplet, err := c.localTriplet(req)
	if err != nil {
		return nil, apperr.NewFheCryptoError("build_local_triplet", err)
	}
	mu.Lock()
	triplets[req.LocalIndex] = localTriplet
	mu.Unlock()

	wg.Wait()

	for i := range triplets {
		if triplets[i].Vote == nil || triplets[i].Attack == nil || triplets[i].Heal == nil {
			zero, err := c.zeroTriplet()
			if err != nil {
				return nil, apperr.NewFheCryptoError("build_zero_triplet", err)
			}
			triplets[i] = zero
		}
	}

	return triplets, nil
}

func (c *Collector) localTriplet(req Request) (vectorfactory.Triplet, error) {
	if !req.LocalAlive || (req.Phase != "night" && req.Phase != "vote") {
		return c.zeroTriplet()
	}
	return c.factory.BuildHumanActionVectors(req.LocalTarget, req.LocalRole, req.Phase)
}

func (c *Collector) zeroTriplet() (vectorfactory.Triplet, error) {
	v, err := c.factory.ZeroVector()
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	a, err := c.factory.ZeroVector()
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	h, err := c.factory.ZeroVector()
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	return vectorfactory.Triplet{Vote: v, Attack: a, Heal: h}, nil
}

func (c *Collector) requestPeerTriplet(ctx context.Context, peer Peer, req Request) (vectorfactory.Triplet, error) {
	client := c.clients[peer.Index]
	if client == nil {
		return vectorfactory.Triplet{}, apperr.NewProtocolError("request_action: no client for peer")
	}
	resp, err := client.RequestAction(ctx, rpcclient.RequestActionRequest{
		Phase:       req.Phase,
		Message:     req.Message,
		Survivors:   req.Survivors,
		DeadPlayers: req.DeadPlayers,
	})
	if err != nil {
		return vectorfactory.Triplet{}, apperr.NewNetworkError(peer.Index, err)
	}
	vote, err := fhecrypto.DeserializeCiphertext(resp.VoteVector)
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	attack, err := fhecrypto.DeserializeCiphertext(resp.AttackVector)
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	heal, err := fhecrypto.DeserializeCiphertext(resp.HealVector)
	if err != nil {
		return vectorfactory.Triplet{}, err
	}
	return vectorfactory.Triplet{Vote: vote, Attack: attack, Heal: heal}, nil
}

// HandleRequestAction is the peer side of request_action: build this
// party's own triplet for the announced phase and serialize it for the
// wire.
func HandleRequestAction(factory *vectorfactory.Factory, target int, role roles.Role, alive bool, phase string) (rpcclient.RequestActionResponse, error) {
	var triplet vectorfactory.Triplet
	var err error
	if alive && (phase == "night" || phase == "vote") {
		triplet, err = factory.BuildHumanActionVectors(target, role, phase)
	} else {
		triplet, err = factory.BuildHumanActionVectors(-1, role, phase)
	}
	if err != nil {
		return rpcclient.RequestActionResponse{}, apperr.NewFheCryptoError("request_action", err)
	}

	voteWire, err := triplet.Vote.Serialize()
	if err != nil {
		return rpcclient.RequestActionResponse{}, apperr.NewFheCryptoError("request_action", err)
	}
	attackWire, err := triplet.Attack.Serialize()
	if err != nil {
		return rpcclient.RequestActionResponse{}, apperr.NewFheCryptoError("request_action", err)
	}
	healWire, err := triplet.Heal.Serialize()
	if err != nil {
		return rpcclient.RequestActionResponse{}, apperr.NewFheCryptoError("request_action", err)
	}

	return rpcclient.RequestActionResponse{
		VoteVector:   voteWire,
		AttackVector: attackWire,
		HealVector:   healWire,
	}, nil
}
