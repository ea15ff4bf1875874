// Package config centralizes the closed configuration surface the engine
// recognizes. Loaded once at process start into an immutable Config; no
// call site reads os.Getenv directly after that.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	MinPlayers = 4
	MaxPlayers = 10
)

// RoleDistribution is the closed table of role counts by player count.
type RoleDistribution struct {
	Mafia, Doctor, Police, Citizen int
}

// RoleDistributionTable is the authoritative per-player-count role split.
var RoleDistributionTable = map[int]RoleDistribution{
	4:  {Mafia: 1, Doctor: 1, Police: 1, Citizen: 1},
	5:  {Mafia: 1, Doctor: 1, Police: 1, Citizen: 2},
	6:  {Mafia: 2, Doctor: 1, Police: 1, Citizen: 2},
	7:  {Mafia: 2, Doctor: 1, Police: 1, Citizen: 3},
	8:  {Mafia: 2, Doctor: 1, Police: 1, Citizen: 4},
	9:  {Mafia: 3, Doctor: 1, Police: 1, Citizen: 4},
	10: {Mafia: 3, Doctor: 1, Police: 1, Citizen: 5},
}

// RevealMode selects which threshold-decryption protocol end-of-game full
// reveal uses. The per-night police investigation path always uses
// fan-out regardless of this setting.
type RevealMode string

const (
	RevealModeFanOut RevealMode = "fanout"
	RevealModeRelay  RevealMode = "relay"
)

// Config is the engine's full closed option set.
type Config struct {
	MinPlayers, MaxPlayers int
	RoleDistribution       map[int]RoleDistribution

	NightPhaseTimeout     time.Duration
	DayPhaseTimeout       time.Duration
	VotePhaseTimeout      time.Duration
	ConnectionTimeout     time.Duration
	ActionRequestTimeout  time.Duration
	PartialDecryptTimeout time.Duration

	LobbyAddresses []string
	OpenAIAPIKey   string

	RevealMode RevealMode

	// DatabaseURL, if set, selects the Postgres-backed gamelog.Store over
	// the default file-backed one.
	DatabaseURL string

	APIAuthToken    string
	AllowedOrigins  string
	Port            string
	EnableSynthetic bool
}

// Load reads the recognized environment variables and returns an immutable
// Config. Every value is optional here: an unset or invalid one falls back
// to a documented default or stays empty. Required values are checked by the
// caller (see RequireEnv).
func Load() *Config {
	lobbyCSV := os.Getenv("LOBBY_ADDRESSES")
	var lobbies []string
	if lobbyCSV != "" {
		for _, addr := range strings.Split(lobbyCSV, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				lobbies = append(lobbies, addr)
			}
		}
	}

	reveal := RevealMode(getEnvOrDefault("REVEAL_MODE", string(RevealModeFanOut)))
	if reveal != RevealModeFanOut && reveal != RevealModeRelay {
		log.Printf("[Config] unknown REVEAL_MODE %q, defaulting to fanout", reveal)
		reveal = RevealModeFanOut
	}

	return &Config{
		MinPlayers:            MinPlayers,
		MaxPlayers:            MaxPlayers,
		RoleDistribution:      RoleDistributionTable,
		NightPhaseTimeout:     durationSecondsOrDefault("NIGHT_PHASE_TIMEOUT", 60),
		DayPhaseTimeout:       durationSecondsOrDefault("DAY_PHASE_TIMEOUT", 120),
		VotePhaseTimeout:      durationSecondsOrDefault("VOTE_PHASE_TIMEOUT", 60),
		ConnectionTimeout:     durationSecondsOrDefault("CONNECTION_TIMEOUT", 10),
		ActionRequestTimeout:  durationSecondsOrDefault("ACTION_REQUEST_TIMEOUT", 60),
		PartialDecryptTimeout: durationSecondsOrDefault("PARTIAL_DECRYPT_TIMEOUT", 60),
		LobbyAddresses:        lobbies,
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		RevealMode:            reveal,
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		APIAuthToken:          os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins:        os.Getenv("ALLOWED_ORIGINS"),
		Port:                  getEnvOrDefault("PORT", "7339"),
		EnableSynthetic:       os.Getenv("ENABLE_SYNTHETIC") == "true",
	}
}

// ValidatePlayerCount rejects a player count outside the supported closed
// range or without a role-distribution entry.
func (c *Config) ValidatePlayerCount(n int) error {
	if n < c.MinPlayers || n > c.MaxPlayers {
		return fmt.Errorf("player count %d outside supported range [%d, %d]", n, c.MinPlayers, c.MaxPlayers)
	}
	if _, ok := c.RoleDistribution[n]; !ok {
		return fmt.Errorf("no role distribution defined for %d players", n)
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationSecondsOrDefault(key string, fallbackSeconds int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallbackSeconds) * time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] invalid %s=%q, using default %ds", key, v, fallbackSeconds)
		return time.Duration(fallbackSeconds) * time.Second
	}
	return time.Duration(secs) * time.Second
}

// RequireEnv reads a required environment variable and exits if unset —
// the fail-fast startup pattern. Load reads the secrets (API_AUTH_TOKEN,
// OPENAI_API_KEY) with os.Getenv instead, so they may be empty.
func RequireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}
