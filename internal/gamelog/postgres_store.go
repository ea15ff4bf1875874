package gamelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS game_sections (
	id       BIGSERIAL PRIMARY KEY,
	game_id  TEXT NOT NULL,
	title    TEXT NOT NULL,
	logged_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS night_results (
	id             BIGSERIAL PRIMARY KEY,
	game_id        TEXT NOT NULL,
	day            INT NOT NULL,
	killed_vector  JSONB NOT NULL,
	killed_indices JSONB NOT NULL,
	num_players    INT NOT NULL,
	logged_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vote_results (
	id          BIGSERIAL PRIMARY KEY,
	game_id     TEXT NOT NULL,
	day         INT NOT NULL,
	vote_vector JSONB NOT NULL,
	voted_out   INT,
	num_players INT NOT NULL,
	logged_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_ends (
	id        BIGSERIAL PRIMARY KEY,
	game_id   TEXT NOT NULL UNIQUE,
	winner    TEXT NOT NULL,
	survivors JSONB NOT NULL,
	day       INT NOT NULL,
	logged_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore is the gamelog.Store backed by Postgres via pgx, selected
// when config.Config.DatabaseURL is set. Same pgxpool connect/ping/
// InitSchema shape as this codebase's other persistence layer, restructured
// around this domain's decrypted-outcome tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pgxpool to connStr and verifies it with a ping.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("gamelog: unable to connect to database: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("gamelog: ping failed: %w", err)
	}
	log.Println("[gamelog] connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// InitSchema creates every table this store needs if not already present.
func (s *PostgresStore) InitSchema() error {
	if _, err := s.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("gamelog: schema init failed: %w", err)
	}
	log.Println("[gamelog] schema initialized")
	return nil
}

func (s *PostgresStore) LogSection(ctx context.Context, gameID, title string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_sections (game_id, title) VALUES ($1, $2)`, gameID, title)
	return err
}

func (s *PostgresStore) LogNightResult(ctx context.Context, gameID string, result NightResult) error {
	killedVec, err := json.Marshal(result.KilledVector)
	if err != nil {
		return err
	}
	killedIdx, err := json.Marshal(result.KilledIndices)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO night_results (game_id, day, killed_vector, killed_indices, num_players)
		 VALUES ($1, $2, $3, $4, $5)`,
		gameID, result.Day, killedVec, killedIdx, result.NumPlayers)
	return err
}

func (s *PostgresStore) LogVoteResult(ctx context.Context, gameID string, result VoteResult) error {
	voteVec, err := json.Marshal(result.VoteVector)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vote_results (game_id, day, vote_vector, voted_out, num_players)
		 VALUES ($1, $2, $3, $4, $5)`,
		gameID, result.Day, voteVec, result.VotedOut, result.NumPlayers)
	return err
}

func (s *PostgresStore) LogGameEnd(ctx context.Context, gameID string, end GameEnd) error {
	survivors, err := json.Marshal(end.Survivors)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO game_ends (game_id, winner, survivors, day) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (game_id) DO UPDATE SET winner = EXCLUDED.winner, survivors = EXCLUDED.survivors, day = EXCLUDED.day`,
		gameID, end.Winner, survivors, end.Day)
	return err
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
