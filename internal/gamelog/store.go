// Package gamelog records decrypted game outcomes only — night kills, vote
// results, and the final winner — never encrypted ciphertexts or
// intermediate partial shares. Two Store implementations: a file-backed
// JSON-lines log used by default, and an optional Postgres-backed one
// selected when DATABASE_URL is configured.
package gamelog

import "context"

// NightResult is one decrypted night phase's outcome.
type NightResult struct {
	Day           int     `json:"day"`
	KilledVector  []int64 `json:"killed_vector"`
	KilledIndices []int   `json:"killed_indices"`
	NumPlayers    int     `json:"num_players"`
}

// VoteResult is one decrypted vote phase's outcome.
type VoteResult struct {
	Day        int     `json:"day"`
	VoteVector []int64 `json:"vote_vector"`
	VotedOut   *int    `json:"voted_out"`
	NumPlayers int     `json:"num_players"`
}

// GameEnd is the terminal outcome of one game.
type GameEnd struct {
	Winner    string `json:"winner"`
	Survivors []int  `json:"survivors"`
	Day       int    `json:"day"`
}

// Store is the append-only sink for one game's decrypted outcome log.
// Each call appends one record, so calling a method twice logs the record
// twice (PostgresStore's LogGameEnd alone upserts). Callers never need to
// serialize their own calls beyond what the underlying game state machine
// already guarantees.
type Store interface {
	LogSection(ctx context.Context, gameID, title string) error
	LogNightResult(ctx context.Context, gameID string, result NightResult) error
	LogVoteResult(ctx context.Context, gameID string, result VoteResult) error
	LogGameEnd(ctx context.Context, gameID string, end GameEnd) error
	Close()
}

// NoopStore discards every call, for the Coordinator's "continue without
// persisting" fallback when neither the file nor Postgres store could be
// opened at startup.
type NoopStore struct{}

func (NoopStore) LogSection(ctx context.Context, gameID, title string) error {
	return nil
}

func (NoopStore) LogNightResult(ctx context.Context, gameID string, r NightResult) error {
	return nil
}

func (NoopStore) LogVoteResult(ctx context.Context, gameID string, r VoteResult) error {
	return nil
}

func (NoopStore) LogGameEnd(ctx context.Context, gameID string, e GameEnd) error {
	return nil
}

func (NoopStore) Close() {}
