// Command peer runs one non-Coordinator party's process: it answers every
// RPC verb (DKG rounds, blind role assignment, threshold decryption,
// action requests) until the Coordinator sends shutdown.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/maFHEa/engine/internal/config"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/rpc"
	"github.com/maFHEa/engine/internal/session/hub"
)

func main() {
	log.Println("Starting blind Mafia engine peer process...")

	cfg := config.Load()

	playerIndex, err := strconv.Atoi(config.RequireEnv("PLAYER_INDEX"))
	if err != nil {
		log.Fatalf("FATAL: PLAYER_INDEX must be an integer: %v", err)
	}

	wsHub := hub.New()
	go wsHub.Run()

	server := rpc.NewServer(playerIndex, cfg, wsHub, stdinActionProvider(playerIndex))
	router := rpc.SetupRouter(server)

	go func() {
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("FATAL: peer %d server exited: %v", playerIndex, err)
		}
	}()

	log.Printf("Peer %d listening on :%s, awaiting dkg_setup...", playerIndex, cfg.Port)

	<-server.Done()
	log.Printf("Peer %d received shutdown, exiting", playerIndex)
}

// stdinActionProvider prompts this party's own human operator for a
// target seat once per phase. A blank line or unparsable input abstains
// (-1), which internal/vectorfactory encodes as an all-zero contribution.
func stdinActionProvider(selfIndex int) rpc.ActionProvider {
	reader := bufio.NewReader(os.Stdin)
	return func(phase string, role roles.Role, survivors []int) int {
		if phase != "night" && phase != "vote" {
			return -1
		}
		fmt.Printf("\n[player %d | %s] %s phase — survivors: %v\n", selfIndex, role.String(), phase, survivors)
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
