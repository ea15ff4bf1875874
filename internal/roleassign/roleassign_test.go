package roleassign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"

	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/threshold"
)

const testPlayers = 4

// genJointContext builds a joint context and per-party secret keys by
// running the joint public key round of the DKG locally, with no network,
// as internal/threshold's own test fixture does. No relin key is installed.
func genJointContext(t *testing.T) (*fhecrypto.Context, []*rlwe.SecretKey) {
	t.Helper()
	ctx, err := fhecrypto.NewContext(testPlayers)
	require.NoError(t, err)

	crs, err := fhecrypto.NewCRS("roleassign-test-game")
	require.NoError(t, err)

	sks := make([]*rlwe.SecretKey, testPlayers)
	for i := range sks {
		sks[i] = ctx.GenLocalSecretKey()
	}

	var running *fhecrypto.PublicKeyGenShare
	for i := 0; i < testPlayers; i++ {
		share, err := ctx.GenPublicKeyShare(sks[i], crs)
		require.NoError(t, err)
		if running == nil {
			running = share
			continue
		}
		running, err = ctx.AggregatePublicKeyShares(running, share)
		require.NoError(t, err)
	}
	jpk, err := ctx.FinalizeJointPublicKey(crs, running)
	require.NoError(t, err)
	ctx.InstallJointPublicKey(jpk)

	return ctx, sks
}

// peerServer exposes the subset of internal/rpc's handlers a peer's
// Assigner and threshold.Service need, without depending on internal/rpc.
func peerServer(t *testing.T, assigner *Assigner, thr *threshold.Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/blind_role_assignment", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.BlindRoleAssignmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, assigner.HandleBlindRoleAssignment(req.EncryptedRoles))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/complete_role_decryption", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.CompleteRoleDecryptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, err := assigner.HandleCompleteRoleDecryption(req.PartialCiphertexts)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/partial_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.PartialDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
		require.NoError(t, err)
		part, err := thr.Ctx().PartialDecryptMain(ct, thr.LocalSk())
		require.NoError(t, err)
		wire, err := part.Serialize()
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.PartialDecryptResponse{PartialCiphertext: wire})
	})

	mux.HandleFunc("/investigate_parallel", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.InvestigateParallelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
		require.NoError(t, err)
		part, err := thr.Ctx().PartialDecryptMain(ct, thr.LocalSk())
		require.NoError(t, err)
		wire, err := part.Serialize()
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.InvestigateParallelResponse{PartialCiphertext: wire})
	})

	mux.HandleFunc("/relay_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.RelayDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		updated, err := thr.HandleRelayHop(r.Context(), req.Ciphertext, req.PartialResults, req.RemainingOrder, req.PlayerAddresses)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.RelayDecryptResponse{PartialResults: updated})
	})

	return httptest.NewServer(mux)
}

// TestGenerateAndDistributeAssignsConsistentRoles wires up a Coordinator
// (index 0) and three peers behind real HTTP servers, runs the full
// blind role-assignment flow, and checks that every party ends up with a
// role consistent with the shuffled multiset and that nobody is left
// without one.
func TestGenerateAndDistributeAssignsConsistentRoles(t *testing.T) {
	ctx, sks := genJointContext(t)

	assigners := make([]*Assigner, testPlayers)
	thrServices := make([]*threshold.Service, testPlayers)
	servers := make([]*httptest.Server, testPlayers)

	for i := 0; i < testPlayers; i++ {
		thrServices[i] = threshold.New(ctx, sks[i], i, map[int]*rpcclient.Client{})
	}
	for i := 0; i < testPlayers; i++ {
		assigners[i] = New(ctx, sks[i], i, testPlayers, map[int]*rpcclient.Client{}, thrServices[i])
	}
	for i := 0; i < testPlayers; i++ {
		servers[i] = peerServer(t, assigners[i], thrServices[i])
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	for i := 0; i < testPlayers; i++ {
		clients := make(map[int]*rpcclient.Client, testPlayers-1)
		for j := 0; j < testPlayers; j++ {
			if i == j {
				continue
			}
			clients[j] = rpcclient.New(servers[j].URL, j, "", 5*time.Second)
		}
		thrServices[i].SetClients(clients)
		assigners[i].clients = clients
	}

	peers := make([]Peer, 0, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		peers = append(peers, Peer{Index: i, Address: servers[i].URL})
	}

	ownRole, err := assigners[0].GenerateAndDistribute(context.Background(), peers)
	require.NoError(t, err)
	require.NotEqual(t, roles.RoleUnknown, ownRole)
	require.Equal(t, ownRole, assigners[0].MyRole())

	seen := map[roles.Role]int{ownRole: 1}
	for i := 1; i < testPlayers; i++ {
		r := assigners[i].MyRole()
		require.NotEqual(t, roles.RoleUnknown, r, "peer %d never learned its role", i)
		seen[r]++
	}

	want, err := roles.BuildMultiset(testPlayers)
	require.NoError(t, err)
	require.Equal(t, roles.Multiset(want), seen)

	require.Len(t, assigners[0].AllEncryptedRoles(), testPlayers)
}
