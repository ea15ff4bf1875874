package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/dkg"
	"github.com/maFHEa/engine/internal/roleassign"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/threshold"

	"net/http/httptest"
)

const testPlayers = 4

func testConfig() *config.Config {
	return &config.Config{ConnectionTimeout: 5 * time.Second}
}

// buildPeerServers wires up every non-Coordinator party as a real
// internal/rpc.Server behind an httptest.Server, mirroring how cmd/peer
// would run each of them in production.
func buildPeerServers(t *testing.T, n int) ([]*Server, []*httptest.Server, map[int]*rpcclient.Client) {
	t.Helper()
	servers := make([]*Server, n)
	httpServers := make([]*httptest.Server, n)
	clients := make(map[int]*rpcclient.Client, n-1)

	for i := 1; i < n; i++ {
		servers[i] = NewServer(i, testConfig(), nil, nil)
		httpServers[i] = httptest.NewServer(SetupRouter(servers[i]))
	}
	for i := 1; i < n; i++ {
		clients[i] = rpcclient.New(httpServers[i].URL, i, "", testConfig().ConnectionTimeout)
	}
	return servers, httpServers, clients
}

func closeAll(servers []*httptest.Server) {
	for _, s := range servers {
		if s != nil {
			s.Close()
		}
	}
}

// TestFullHandshakeAssignsRolesAndAnswersThreshold drives the Coordinator
// side directly (as cmd/coordinator would: its own dkg.Coordinator,
// roleassign.Assigner and threshold.Service, none behind HTTP) against
// three peers that are full internal/rpc.Server instances, exercising the
// entire dkg_setup -> dkg_round -> generate_keyswitchgen ->
// generate_multmultkey -> blind_role_assignment -> complete_role_decryption
// -> reveal_role chain over real HTTP.
func TestFullHandshakeAssignsRolesAndAnswersThreshold(t *testing.T) {
	servers, httpServers, clients := buildPeerServers(t, testPlayers)
	defer closeAll(httpServers)

	dkgPeers := make([]dkg.Peer, 0, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		dkgPeers = append(dkgPeers, dkg.Peer{Index: i, Address: httpServers[i].URL})
	}

	coord := dkg.NewCoordinator(dkgPeers, clients)
	jointCtx, jointSk, err := coord.Run(context.Background(), "rpc-server-test-game", testPlayers)
	require.NoError(t, err)
	require.NotNil(t, jointCtx.JointPublicKey())
	require.NotNil(t, jointCtx.JointRelinKey())

	for i := 1; i < testPlayers; i++ {
		require.NotNilf(t, servers[i].Thresholds(), "peer %d never constructed its threshold.Service", i)
		require.NotNilf(t, servers[i].Assigner(), "peer %d never constructed its roleassign.Assigner", i)
	}

	thr0 := threshold.New(jointCtx, jointSk, 0, clients)
	assigner0 := roleassign.New(jointCtx, jointSk, 0, testPlayers, clients, thr0)

	roleassignPeers := make([]roleassign.Peer, 0, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		roleassignPeers = append(roleassignPeers, roleassign.Peer{Index: i, Address: httpServers[i].URL})
	}

	ownRole, err := assigner0.GenerateAndDistribute(context.Background(), roleassignPeers)
	require.NoError(t, err)
	require.NotEqual(t, roles.RoleUnknown, ownRole)

	seen := map[string]int{ownRole.String(): 1}
	for i := 1; i < testPlayers; i++ {
		resp, err := clients[i].RevealRole(context.Background())
		require.NoError(t, err)
		require.NotEqual(t, roles.RoleUnknown.String(), resp.Role, "peer %d never learned its role", i)
		seen[resp.Role]++
	}

	want, err := roles.BuildMultiset(testPlayers)
	require.NoError(t, err)
	wantCounts := map[string]int{}
	for _, r := range want {
		wantCounts[r.String()]++
	}
	require.Equal(t, wantCounts, seen)

	// A fan-out decrypt against the now-ready peer threshold services, run
	// from the Coordinator's own local service exactly as a kill/vote
	// reveal would.
	vec := make([]int64, jointCtx.NumSlots)
	vec[1] = 1
	ct, err := jointCtx.EncryptVector(vec)
	require.NoError(t, err)
	got, err := thr0.FanOutDecrypt(context.Background(), ct)
	require.NoError(t, err)
	require.EqualValues(t, 1, got[1])
}

// TestRequestActionHandlerInvokesProviderAndReturnsCiphertexts drives the
// peers through the DKG handshake so their factories are genuinely ready
// (role assignment is not run, so each role stays unknown), then checks
// request_action both invokes the configured
// ActionProvider with the announced phase/survivors and returns three
// independently-deserializable ciphertexts.
func TestRequestActionHandlerInvokesProviderAndReturnsCiphertexts(t *testing.T) {
	var gotPhase string
	var gotSurvivors []int
	provider := func(phase string, role roles.Role, survivors []int) int {
		gotPhase = phase
		gotSurvivors = survivors
		return -1
	}

	servers := make([]*Server, testPlayers)
	httpServers := make([]*httptest.Server, testPlayers)
	clients := make(map[int]*rpcclient.Client, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		var p ActionProvider
		if i == 1 {
			p = provider
		}
		servers[i] = NewServer(i, testConfig(), nil, p)
		httpServers[i] = httptest.NewServer(SetupRouter(servers[i]))
	}
	defer closeAll(httpServers)
	for i := 1; i < testPlayers; i++ {
		clients[i] = rpcclient.New(httpServers[i].URL, i, "", testConfig().ConnectionTimeout)
	}

	dkgPeers := make([]dkg.Peer, 0, testPlayers-1)
	for i := 1; i < testPlayers; i++ {
		dkgPeers = append(dkgPeers, dkg.Peer{Index: i, Address: httpServers[i].URL})
	}
	coord := dkg.NewCoordinator(dkgPeers, clients)
	_, _, err := coord.Run(context.Background(), "rpc-server-action-test-game", testPlayers)
	require.NoError(t, err)

	resp, err := clients[1].RequestAction(context.Background(), rpcclient.RequestActionRequest{
		Phase:     "night",
		Survivors: []int{0, 1, 2, 3},
	})
	require.NoError(t, err)
	require.Equal(t, "night", gotPhase)
	require.Equal(t, []int{0, 1, 2, 3}, gotSurvivors)
	require.NotEmpty(t, resp.VoteVector)
	require.NotEmpty(t, resp.AttackVector)
	require.NotEmpty(t, resp.HealVector)
}

func TestUpdateMarksSelfDead(t *testing.T) {
	s := NewServer(2, testConfig(), nil, nil)
	httpServer := httptest.NewServer(SetupRouter(s))
	defer httpServer.Close()

	client := rpcclient.New(httpServer.URL, 2, "", testConfig().ConnectionTimeout)
	require.NoError(t, client.Update(context.Background(), rpcclient.UpdateRequest{
		Phase:       "night",
		DeadPlayers: []int{2},
	}))

	s.mu.Lock()
	alive := s.myAlive
	s.mu.Unlock()
	require.False(t, alive)
}

func TestShutdownClosesDoneChannel(t *testing.T) {
	s := NewServer(3, testConfig(), nil, nil)
	httpServer := httptest.NewServer(SetupRouter(s))
	defer httpServer.Close()

	client := rpcclient.New(httpServer.URL, 3, "", testConfig().ConnectionTimeout)
	require.NoError(t, client.Shutdown(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not close Done channel")
	}
}
