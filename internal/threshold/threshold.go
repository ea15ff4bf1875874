// Package threshold implements the two selective-reveal protocols: fan-out
// decryption (parallel partials, requester fuses) and relay decryption
// (sequential hop chain, only the originator fuses).
// Both require exactly N partial shares with exactly one lead share.
package threshold

import (
	"context"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"golang.org/x/sync/errgroup"

	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/rpcclient"
)

// Peer is the minimal addressing/identity view the service needs of a
// session's player roster; internal/phaseengine converts its Player
// roster into this form.
type Peer struct {
	Index   int
	Address string
}

// Service runs threshold decryption for one party (requester or relay
// hop) of one game, holding that party's own secret key share and a ready
// rpcclient for every other peer.
type Service struct {
	ctx       *fhecrypto.Context
	localSk   *rlwe.SecretKey
	selfIndex int
	clients   map[int]*rpcclient.Client // peer index -> client, excludes selfIndex
}

// New returns a Service bound to selfIndex's own secret key share and a
// client for every other peer keyed by index.
func New(ctx *fhecrypto.Context, sk *rlwe.SecretKey, selfIndex int, clients map[int]*rpcclient.Client) *Service {
	return &Service{ctx: ctx, localSk: sk, selfIndex: selfIndex, clients: clients}
}

// Ctx returns the game's crypto context, shared read-only with sibling
// callers (internal/phaseengine, internal/rpc) that need to
// encrypt/decode without duplicating it.
func (s *Service) Ctx() *fhecrypto.Context { return s.ctx }

// LocalSk returns this party's own secret key share.
func (s *Service) LocalSk() *rlwe.SecretKey { return s.localSk }

// SetClients (re)points this Service at a fresh set of peer clients,
// needed when the roster is wired up after construction (tests, and
// internal/rpc's startup sequence where clients are dialed lazily).
func (s *Service) SetClients(clients map[int]*rpcclient.Client) { s.clients = clients }

// FanOutDecrypt implements the parallel protocol for outcomes every party
// will eventually learn (killed vector, vote tallies, end-of-
// game reveal): the requester computes its own lead partial locally, fans
// out partial_decrypt calls to every other peer in parallel, and fuses. A
// failure or timeout from any peer aborts the whole decryption with
// ReconstructionError — there is no partial-quorum fallback, since fusion
// requires all N shares.
func (s *Service) FanOutDecrypt(ctx context.Context, ct *fhecrypto.Ciphertext) ([]int64, error) {
	return s.fanOut(ctx, ct, func(gctx context.Context, client *rpcclient.Client, wire string) (string, error) {
		resp, err := client.PartialDecrypt(gctx, rpcclient.PartialDecryptRequest{Ciphertext: wire, IsLead: false})
		if err != nil {
			return "", err
		}
		return resp.PartialCiphertext, nil
	})
}

// Investigate implements the same fan-out math but over the
// investigate_parallel verb, used only by a live police player decrypting
// their night target's encrypted role. Kept distinct
// from FanOutDecrypt because the RPC surface exposes them as separate
// verbs — the receiving peer never learns which ciphertext meaning it is
// contributing a share toward either way.
func (s *Service) Investigate(ctx context.Context, ct *fhecrypto.Ciphertext) ([]int64, error) {
	return s.fanOut(ctx, ct, func(gctx context.Context, client *rpcclient.Client, wire string) (string, error) {
		resp, err := client.InvestigateParallel(gctx, rpcclient.InvestigateParallelRequest{Ciphertext: wire})
		if err != nil {
			return "", err
		}
		return resp.PartialCiphertext, nil
	})
}

func (s *Service) fanOut(ctx context.Context, ct *fhecrypto.Ciphertext, call func(context.Context, *rpcclient.Client, string) (string, error)) ([]int64, error) {
	lead, err := s.ctx.PartialDecryptLead(ct, s.localSk)
	if err != nil {
		return nil, apperr.NewReconstructionError("fanout", err)
	}

	wire, err := ct.Serialize()
	if err != nil {
		return nil, apperr.NewReconstructionError("fanout", err)
	}

	var mu sync.Mutex
	parts := []*fhecrypto.PartialDecryption{lead}

	g, gctx := errgroup.WithContext(ctx)
	for idx, client := range s.clients {
		idx, client := idx, client
		g.Go(func() error {
			partialWire, err := call(gctx, client, wire)
			if err != nil {
				return apperr.NewNetworkError(idx, err)
			}
			part, err := fhecrypto.DeserializeKeySwitchShare(partialWire)
			if err != nil {
				return apperr.NewReconstructionError("fanout", err)
			}
			mu.Lock()
			parts = append(parts, part)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.NewReconstructionError("fanout", err)
	}

	pt, err := s.ctx.FusionDecrypt(ct, parts)
	if err != nil {
		return nil, apperr.NewReconstructionError("fanout", err)
	}
	return s.ctx.Decode(pt)
}

// RelayDecrypt implements the sequential protocol: the requester picks an
// order over every other peer, forwards the ciphertext
// to the first hop with the remaining order (ending with the requester's
// own index), and each hop appends its main partial before forwarding.
// When the chain cycles back, the requester adds its own lead partial and
// fuses — every intermediate hop only ever sees "add a partial and
// forward", never the plaintext.
func (s *Service) RelayDecrypt(ctx context.Context, ct *fhecrypto.Ciphertext, playerOrder []Peer) ([]int64, error) {
	if len(playerOrder) == 0 {
		lead, err := s.ctx.PartialDecryptLead(ct, s.localSk)
		if err != nil {
			return nil, apperr.NewReconstructionError("relay", err)
		}
		pt, err := s.ctx.FusionDecrypt(ct, []*fhecrypto.PartialDecryption{lead})
		if err != nil {
			return nil, apperr.NewReconstructionError("relay", err)
		}
		return s.ctx.Decode(pt)
	}

	wire, err := ct.Serialize()
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}

	remaining := make([]int, 0, len(playerOrder))
	addresses := make([]string, 0, len(playerOrder)+1)
	for _, p := range playerOrder[1:] {
		remaining = append(remaining, p.Index)
	}
	remaining = append(remaining, s.selfIndex)
	for _, p := range playerOrder {
		addresses = append(addresses, p.Address)
	}

	first := playerOrder[0]
	client, ok := s.clients[first.Index]
	if !ok {
		return nil, apperr.NewProtocolError("relay_decrypt: no client for first hop")
	}

	resp, err := client.RelayDecrypt(ctx, rpcclient.RelayDecryptRequest{
		Ciphertext:      wire,
		PartialResults:  nil,
		RemainingOrder:  remaining,
		PlayerAddresses: addresses,
	})
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}
	if len(resp.PartialResults) == 0 {
		return nil, apperr.NewProtocolError("relay_decrypt: chain returned no partials")
	}

	parts := make([]*fhecrypto.PartialDecryption, 0, len(resp.PartialResults)+1)
	for _, w := range resp.PartialResults {
		part, err := fhecrypto.DeserializeKeySwitchShare(w)
		if err != nil {
			return nil, apperr.NewReconstructionError("relay", err)
		}
		parts = append(parts, part)
	}
	lead, err := s.ctx.PartialDecryptLead(ct, s.localSk)
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}
	parts = append(parts, lead)

	pt, err := s.ctx.FusionDecrypt(ct, parts)
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}
	return s.ctx.Decode(pt)
}

// HandleRelayHop is the intermediate-hop side of RelayDecrypt, called by
// internal/rpc's relay_decrypt handler. It computes this party's main
// partial, appends it to the running set, and either forwards to the next
// hop or — when remainingOrder names only the original requester, i.e.
// there is nothing left to forward to but the terminal pass-through —
// returns the accumulated partials directly, letting the blocking call
// chain carry them back up to the requester without an actual hop to
// the requester's own server.
func (s *Service) HandleRelayHop(ctx context.Context, wire string, partialResults []string, remainingOrder []int, addresses []string) ([]string, error) {
	ct, err := fhecrypto.DeserializeCiphertext(wire)
	if err != nil {
		return nil, apperr.NewProtocolError("relay_decrypt: bad ciphertext")
	}

	part, err := s.ctx.PartialDecryptMain(ct, s.localSk)
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}
	partWire, err := part.Serialize()
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}

	updated := append(append([]string{}, partialResults...), partWire)

	if len(remainingOrder) <= 1 {
		return updated, nil
	}

	next := remainingOrder[0]
	rest := remainingOrder[1:]

	client, ok := s.clients[next]
	if !ok {
		return nil, apperr.NewProtocolError("relay_decrypt: no client for next hop")
	}
	resp, err := client.RelayDecrypt(ctx, rpcclient.RelayDecryptRequest{
		Ciphertext:      wire,
		PartialResults:  updated,
		RemainingOrder:  rest,
		PlayerAddresses: addresses,
	})
	if err != nil {
		return nil, apperr.NewReconstructionError("relay", err)
	}
	return resp.PartialResults, nil
}
