// Command coordinator drives one full game: it runs the Coordinator side
// of distributed key generation, shuffles and distributes roles, then
// hosts the night/day/vote loop until a winner is decided.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/maFHEa/engine/internal/action"
	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/dkg"
	"github.com/maFHEa/engine/internal/gamelog"
	"github.com/maFHEa/engine/internal/phaseengine"
	"github.com/maFHEa/engine/internal/roleassign"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpc"
	"github.com/maFHEa/engine/internal/rpcclient"
	"github.com/maFHEa/engine/internal/session"
	"github.com/maFHEa/engine/internal/session/hub"
	"github.com/maFHEa/engine/internal/threshold"
	"github.com/maFHEa/engine/internal/vectorfactory"
)

func main() {
	log.Println("Starting blind Mafia engine coordinator...")

	cfg := config.Load()

	numPlayers := len(cfg.LobbyAddresses) + 1
	if err := cfg.ValidatePlayerCount(numPlayers); err != nil {
		log.Fatalf("FATAL: %v (set LOBBY_ADDRESSES to %d-%d peer addresses)", err, config.MinPlayers-1, config.MaxPlayers-1)
	}

	store, err := openGameLog(cfg)
	if err != nil {
		log.Printf("Warning: gamelog store unavailable, game will run unlogged: %v", err)
		store = gamelog.NoopStore{}
	}
	defer store.Close()

	wsHub := hub.New()
	go wsHub.Run()

	dkgPeers := make([]dkg.Peer, numPlayers-1)
	clients := make(map[int]*rpcclient.Client, numPlayers-1)
	for i, addr := range cfg.LobbyAddresses {
		idx := i + 1
		dkgPeers[i] = dkg.Peer{Index: idx, Address: addr}
		clients[idx] = rpcclient.New(addr, idx, cfg.APIAuthToken, cfg.ConnectionTimeout)
	}

	ctx := context.Background()
	gameID := "game-" + strconv.FormatInt(int64(os.Getpid()), 10)

	log.Printf("Running distributed key generation across %d players...", numPlayers)
	coord := dkg.NewCoordinator(dkgPeers, clients)
	jointCtx, jointSk, err := coord.Run(ctx, gameID, numPlayers)
	if err != nil {
		log.Fatalf("FATAL: DKG failed: %v", err)
	}
	log.Println("Joint public and relinearization keys installed at every party.")

	thresholds := threshold.New(jointCtx, jointSk, 0, clients)
	factory := vectorfactory.New(jointCtx, numPlayers)
	assigner := roleassign.New(jointCtx, jointSk, 0, numPlayers, clients, thresholds)

	roleassignPeers := make([]roleassign.Peer, numPlayers-1)
	for i, p := range dkgPeers {
		roleassignPeers[i] = roleassign.Peer{Index: p.Index, Address: p.Address}
	}

	ownRole, err := assigner.GenerateAndDistribute(ctx, roleassignPeers)
	if err != nil {
		log.Fatalf("FATAL: role assignment failed: %v", err)
	}
	log.Printf("Coordinator's own role: %s", ownRole.String())

	players := make([]phaseengine.Player, numPlayers)
	players[0] = phaseengine.Player{Index: 0, Alive: true}
	for i, p := range dkgPeers {
		players[i+1] = phaseengine.Player{Index: p.Index, Address: p.Address, Alive: true}
	}

	collector := action.New(factory, clients)
	engine := phaseengine.New(cfg, collector, thresholds, clients, players, assigner.AllEncryptedRoles())

	sess := session.New(engine, store, wsHub, ownRole, 0, stdinActionFunc())

	// The Coordinator's own RPC surface only ever needs to serve /stream
	// (spectator websocket) and /health/shutdown — every game-mechanics
	// verb is called on peers, never received by index 0 (see
	// internal/threshold.Service.HandleRelayHop's own terminal-hop note).
	server := rpc.NewServer(0, cfg, wsHub, nil)
	router := rpc.SetupRouter(server)
	go func() {
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("FATAL: coordinator server exited: %v", err)
		}
	}()

	log.Println("Starting game loop...")
	winner, err := sess.Run(ctx)
	if err != nil {
		log.Fatalf("FATAL: game loop failed: %v", err)
	}
	log.Printf("Game %s over: %s win.", sess.GameID, winner)

	for idx, client := range clients {
		if err := client.Shutdown(ctx); err != nil {
			log.Printf("Warning: failed to notify peer %d of shutdown: %v", idx, err)
		}
	}
}

// openGameLog selects Postgres over file-backed storage per cfg.DatabaseURL,
// falling back to the file store on any connect error.
func openGameLog(cfg *config.Config) (gamelog.Store, error) {
	if cfg.DatabaseURL == "" {
		return gamelog.NewFileStore("./game_logs")
	}
	store, err := gamelog.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Printf("Warning: Postgres game log unavailable (%v); using the file store", err)
		return gamelog.NewFileStore("./game_logs")
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		log.Printf("Warning: Postgres schema init failed (%v); using the file store", err)
		return gamelog.NewFileStore("./game_logs")
	}
	return store, nil
}

// stdinActionFunc prompts the Coordinator's own human operator for a
// target seat once per phase.
func stdinActionFunc() session.ActionFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, phase phaseengine.Phase, role roles.Role, survivors []int) int {
		if phase != phaseengine.PhaseNight && phase != phaseengine.PhaseVote {
			return -1
		}
		fmt.Printf("\n[coordinator | %s] %s phase — survivors: %v\n", role.String(), phase, survivors)
		fmt.Print("Enter a target seat number, or leave blank to abstain: ")

		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return -1
		}
		target, err := strconv.Atoi(line)
		if err != nil {
			fmt.Println("Unrecognized input, abstaining.")
			return -1
		}
		return target
	}
}
