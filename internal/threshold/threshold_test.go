package threshold

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
	"github.com/maFHEa/engine/internal/rpcclient"
)

const testPlayers = 4

// genJointContext runs the joint public key round of the DKG locally, with
// no network and no internal/dkg state machine, just to get a
// *fhecrypto.Context that can encrypt plus each party's secret key. No relin
// key is installed; decryption does not need one.
func genJointContext(t *testing.T) (*fhecrypto.Context, []*rlwe.SecretKey) {
	t.Helper()
	ctx, err := fhecrypto.NewContext(testPlayers)
	require.NoError(t, err)

	crs, err := fhecrypto.NewCRS("threshold-test-game")
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

// peerServer wraps one peer's Service behind the subset of internal/rpc's
// handlers that threshold.Service actually calls out to, so this test can
// exercise real HTTP round-trips without depending on the internal/rpc
// package. Every handler decodes one of rpcclient's own request types and
// encodes one of its own response types, matching the wire shapes those
// handlers will carry in the real server.
func peerServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/partial_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.PartialDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ct, err := fhecrypto.DeserializeCiphertext(req.Ciphertext)
		require.NoError(t, err)
		part, err := svc.ctx.PartialDecryptMain(ct, svc.localSk)
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
		part, err := svc.ctx.PartialDecryptMain(ct, svc.localSk)
		require.NoError(t, err)
		wire, err := part.Serialize()
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.InvestigateParallelResponse{PartialCiphertext: wire})
	})

	mux.HandleFunc("/relay_decrypt", func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.RelayDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		updated, err := svc.HandleRelayHop(r.Context(), req.Ciphertext, req.PartialResults, req.RemainingOrder, req.PlayerAddresses)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(rpcclient.RelayDecryptResponse{PartialResults: updated})
	})

	return httptest.NewServer(mux)
}

// buildServices wires up testPlayers Service instances, each with a real
// httptest server and a real rpcclient.Client pointed at every other
// party's server, mirroring how internal/rpc and cmd/peer would wire this
// in production.
func buildServices(t *testing.T, ctx *fhecrypto.Context, sks []*rlwe.SecretKey) ([]*Service, []*httptest.Server) {
	t.Helper()
	n := len(sks)
	services := make([]*Service, n)
	servers := make([]*httptest.Server, n)

	// Services are created without clients first, since each needs the
	// others' server URLs, which only exist once the Service exists.
	for i := 0; i < n; i++ {
		services[i] = New(ctx, sks[i], i, map[int]*rpcclient.Client{})
	}
	for i := 0; i < n; i++ {
		servers[i] = peerServer(t, services[i])
	}
	for i := 0; i < n; i++ {
		clients := make(map[int]*rpcclient.Client, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			clients[j] = rpcclient.New(servers[j].URL, j, "", 5*time.Second)
		}
		services[i].clients = clients
	}
	return services, servers
}

func closeAll(servers []*httptest.Server) {
	for _, s := range servers {
		s.Close()
	}
}

func TestFanOutDecryptRecoversPlaintext(t *testing.T) {
	ctx, sks := genJointContext(t)
	services, servers := buildServices(t, ctx, sks)
	defer closeAll(servers)

	vec := make([]int64, ctx.NumSlots)
	vec[2] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	got, err := services[0].FanOutDecrypt(context.Background(), ct)
	require.NoError(t, err)
	require.EqualValues(t, 1, got[2])
	for i, v := range got {
		if i != 2 {
			require.EqualValues(t, 0, v)
		}
	}
}

func TestInvestigateRecoversPlaintext(t *testing.T) {
	ctx, sks := genJointContext(t)
	services, servers := buildServices(t, ctx, sks)
	defer closeAll(servers)

	vec := make([]int64, ctx.NumSlots)
	vec[0] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	got, err := services[1].Investigate(context.Background(), ct)
	require.NoError(t, err)
	require.EqualValues(t, 1, got[0])
}

func TestRelayDecryptRecoversPlaintext(t *testing.T) {
	ctx, sks := genJointContext(t)
	services, servers := buildServices(t, ctx, sks)
	defer closeAll(servers)

	vec := make([]int64, ctx.NumSlots)
	vec[3] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	order := []Peer{
		{Index: 1, Address: servers[1].URL},
		{Index: 2, Address: servers[2].URL},
		{Index: 3, Address: servers[3].URL},
	}
	got, err := services[0].RelayDecrypt(context.Background(), ct, order)
	require.NoError(t, err)
	require.EqualValues(t, 1, got[3])
}

func TestRelayDecryptSoloPartyNeedsNoPeers(t *testing.T) {
	// A one-party game: the joint key is this party's key alone, so its own
	// lead share is the whole decryption.
	ctx, err := fhecrypto.NewContext(1)
	require.NoError(t, err)
	crs, err := fhecrypto.NewCRS("threshold-solo-test-game")
	require.NoError(t, err)
	sk := ctx.GenLocalSecretKey()
	share, err := ctx.GenPublicKeyShare(sk, crs)
	require.NoError(t, err)
	jpk, err := ctx.FinalizeJointPublicKey(crs, share)
	require.NoError(t, err)
	ctx.InstallJointPublicKey(jpk)
	svc := New(ctx, sk, 0, map[int]*rpcclient.Client{})

	vec := make([]int64, ctx.NumSlots)
	vec[0] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	got, err := svc.RelayDecrypt(context.Background(), ct, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, got[0])
}

func TestFanOutDecryptAbortsOnPeerFailure(t *testing.T) {
	ctx, sks := genJointContext(t)
	services, servers := buildServices(t, ctx, sks)
	defer closeAll(servers)

	// Kill one peer's server after wiring to force a mid-fanout failure;
	// fan-out decryption aborts with no partial-quorum fallback.
	servers[1].Close()

	vec := make([]int64, ctx.NumSlots)
	vec[0] = 1
	ct, err := ctx.EncryptVector(vec)
	require.NoError(t, err)

	_, err = services[0].FanOutDecrypt(context.Background(), ct)
	require.Error(t, err)
}
