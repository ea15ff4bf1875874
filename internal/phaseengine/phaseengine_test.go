package phaseengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"

	"github.com/maFHEa/engine/internal/action"
	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/fhecrypto"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/threshold"
	"github.com/maFHEa/engine/internal/vectorfactory"
)

const testPlayers = 4

func genJointContext(t *testing.T) (*fhecrypto.Context, []*rlwe.SecretKey) {
	t.Helper()
	ctx, err := fhecrypto.NewContext(testPlayers)
	require.NoError(t, err)

	crs, err := fhecrypto.NewCRS("phaseengine-test-game")
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

	// ExecuteNight multiplies ciphertexts, so the joint relin key is needed too.
	round1 := make([]*fhecrypto.KeySwitchGenShare, testPlayers)
	for i := 0; i < testPlayers; i++ {
		round1[i], err = ctx.GenerateKeySwitchGen(sks[i], crs)
		require.NoError(t, err)
	}
	combined, err := ctx.CombineKeySwitchKeys(round1)
	require.NoError(t, err)
	round2 := make([]*fhecrypto.MultMultKeyShare, testPlayers)
	for i := 0; i < testPlayers; i++ {
		round2[i], err = ctx.GenerateMultMultKey(sks[i], round1[i].EphemeralSecretKey(), combined)
		require.NoError(t, err)
	}
	rlk, err := ctx.CombineMultEvalKeys(combined, round2)
	require.NoError(t, err)
	ctx.InstallJointRelinKey(rlk)

	return ctx, sks
}

// peerHarness is one non-Coordinator party's full peer-side surface for
// this test: action requests, threshold fan-out/investigate/relay hops,
// role reveal, and phase updates.
type peerHarness struct {
	factory *vectorfactory.Factory
	thr     *threshold.Service
	role    roles.Role
	target  int
	alive   bool
}

func peerServer(t *testing.T, h *peerHarness) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/request_action", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.RequestActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp, err := action.HandleRequestAction(h.factory, h.target, h.role, h.alive, req.Phase)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/partial_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.PartialDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
		require.NoError(t, err)
		part, err := h.thr.Ctx().PartialDecryptMain(ct, h.thr.LocalSk())
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
		part, err := h.thr.Ctx().PartialDecryptMain(ct, h.thr.LocalSk())
		require.NoError(t, err)
		wire, err := part.Serialize()
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.InvestigateParallelResponse{PartialCiphertext: wire})
	})

	mux.HandleFunc("/relay_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.RelayDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		updated, err := h.thr.HandleRelayHop(r.Context(), req.Ciphertext, req.PartialResults, req.RemainingOrder, req.PlayerAddresses)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.RelayDecryptResponse{PartialResults: updated})
	})

	mux.HandleFunc("/reveal_role", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcclient.RevealRoleResponse{Role: h.role.String()})
	})

	mux.HandleFunc("/update", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

// setupGame wires a Coordinator (index 0, Doctor) and three peers
// (Mafia, Police, Citizen) behind real HTTP servers, with a shared joint
// context and one encrypted role ciphertext per seat for end-of-game reveal.
func setupGame(t *testing.T) (*Engine, []*httptest.Server, roles.Role, []*peerHarness) {
	t.Helper()
	ctx, sks := genJointContext(t)

	partyRoles := []roles.Role{roles.Doctor, roles.Mafia, roles.Police, roles.Citizen}

	thrServices := make([]*threshold.Service, testPlayers)
	factories := make([]*vectorfactory.Factory, testPlayers)
	for i := 0; i < testPlayers; i++ {
		thrServices[i] = threshold.New(ctx, sks[i], i, map[int]*rpcclient.Client{})
		factories[i] = vectorfactory.New(ctx, testPlayers)
	}

	harnesses := make([]*peerHarness, testPlayers)
	servers := make([]*httptest.Server, testPlayers)
	for i := 1; i < testPlayers; i++ {
		harnesses[i] = &peerHarness{factory: factories[i], thr: thrServices[i], role: partyRoles[i], target: -1, alive: true}
		servers[i] = peerServer(t, harnesses[i])
	}

	clients := make(map[int]*rpcclient.Client, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		clients[i] = rpcclient.New(servers[i].URL, i, "", 5*time.Second)
	}
	thrServices[0].SetClients(clients)

	collector := action.New(factories[0], clients)

	encryptedRoles := make([]*fhecrypto.Ciphertext, testPlayers)
	for i, r := range partyRoles {
		oh := r.ToOneHot()
		vec := make([]int64, testPlayers)
		for j, v := range oh {
			if j < testPlayers {
				vec[j] = v
			}
		}
		ct, err := ctx.EncryptVector(vec)
		require.NoError(t, err)
		encryptedRoles[i] = ct
	}

	cfg := &config.Config{RevealMode: config.RevealModeFanOut}

	players := []Player{
		{Index: 0, Address: "local", Alive: true},
		{Index: 1, Address: servers[1].URL, Alive: true},
		{Index: 2, Address: servers[2].URL, Alive: true},
		{Index: 3, Address: servers[3].URL, Alive: true},
	}

	engine := New(cfg, collector, thrServices[0], clients, players, encryptedRoles)
	return engine, servers[1:], partyRoles[0], harnesses
}

func closeAll(servers []*httptest.Server) {
	for _, s := range servers {
		s.Close()
	}
}

func TestExecuteNightKillsUnhealedTarget(t *testing.T) {
	engine, servers, localRole, harnesses := setupGame(t)
	defer closeAll(servers)
	harnesses[1].target = 3 // Mafia attacks player 3

	err := engine.ExecuteNight(context.Background(), NightRequest{
		LocalTarget:  -1,
		LocalRole:    localRole,
		PoliceIndex:  2,
		PoliceTarget: -1,
	})
	require.NoError(t, err)

	require.Contains(t, engine.LastKilled, 3)
	require.False(t, engine.Players[3].Alive)
}

func TestExecuteVoteEliminatesUniqueMax(t *testing.T) {
	engine, servers, _, _ := setupGame(t)
	defer closeAll(servers)

	err := engine.ExecuteVote(context.Background(), 1, nil)
	require.NoError(t, err)

	require.NotNil(t, engine.LastVoteCounts)
	require.NotNil(t, engine.LastVotedOut)
	require.Equal(t, 1, *engine.LastVotedOut)
	require.False(t, engine.Players[1].Alive)
}

func TestCheckWinNoWinnerWhileBalanced(t *testing.T) {
	engine, servers, localRole, _ := setupGame(t)
	defer closeAll(servers)

	winner, err := engine.CheckWin(context.Background(), localRole)
	require.NoError(t, err)
	require.Equal(t, WinnerNone, winner)
}

func TestCheckWinCitizensWinWhenMafiaDead(t *testing.T) {
	engine, servers, localRole, _ := setupGame(t)
	defer closeAll(servers)

	engine.Players[1].Alive = false // the Mafia seat

	winner, err := engine.CheckWin(context.Background(), localRole)
	require.NoError(t, err)
	require.Equal(t, WinnerCitizens, winner)
}

func TestRevealAllRolesRecoversEveryRole(t *testing.T) {
	engine, servers, localRole, _ := setupGame(t)
	defer closeAll(servers)
	_ = localRole

	revealed, err := engine.RevealAllRoles(context.Background())
	require.NoError(t, err)
	require.Equal(t, []roles.Role{roles.Doctor, roles.Mafia, roles.Police, roles.Citizen}, revealed)
}
