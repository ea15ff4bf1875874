// Package session hosts one game's lifecycle on the Coordinator: it owns
// the phaseengine.Engine driving night/day/vote, persists decrypted
// outcomes to gamelog, and fans out spectator events over hub.Hub. One
// round is night -> check win -> day -> vote -> check win, repeated until
// a winner is decided.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/maFHEa/engine/internal/apperr"
	"github.com/maFHEa/engine/internal/gamelog"
	"github.com/maFHEa/engine/internal/phaseengine"
	"github.com/maFHEa/engine/internal/roles"
	"github.com/maFHEa/engine/internal/session/hub"
)

// ActionFunc asks the caller for the Coordinator's own local action for one
// phase (night or vote) and returns a target index, or -1 to abstain. The
// decoupling from any specific input method (stdin prompt, UI, fixed test
// value) keeps Session testable without a concrete input dependency.
type ActionFunc func(ctx context.Context, phase phaseengine.Phase, role roles.Role, survivors []int) int

// Session is one game's lifecycle host. Only the Coordinator constructs
// one; peers never do, since only the Coordinator drives phases.
type Session struct {
	GameID string
	Engine *phaseengine.Engine
	Store  gamelog.Store
	Hub    *hub.Hub

	LocalRole  roles.Role
	LocalIndex int

	PoliceIndex int
	action      ActionFunc
}

// New returns a Session with a freshly generated game ID.
func New(engine *phaseengine.Engine, store gamelog.Store, h *hub.Hub, localRole roles.Role, policeIndex int, action ActionFunc) *Session {
	return &Session{
		GameID:      uuid.NewString(),
		Engine:      engine,
		Store:       store,
		Hub:         h,
		LocalRole:   localRole,
		LocalIndex:  0,
		PoliceIndex: policeIndex,
		action:      action,
	}
}

// broadcastSpectator marshals and fans out one spectator-facing event,
// logging but not failing the game loop on a broadcast error — the hub is
// an observability surface, not a correctness dependency.
func (s *Session) broadcastSpectator(kind string, payload interface{}) {
	if s.Hub == nil {
		return
	}
	msg, err := json.Marshal(struct {
		Kind string      `json:"kind"`
		Data interface{} `json:"data"`
	}{Kind: kind, Data: payload})
	if err != nil {
		return
	}
	s.Hub.Broadcast(msg)
}

// Run drives the full night -> day -> vote cycle until a winner is
// decided, persisting each decrypted outcome and the final result.
func (s *Session) Run(ctx context.Context) (phaseengine.Winner, error) {
	if err := s.Store.LogSection(ctx, s.GameID, fmt.Sprintf("Game %s started", s.GameID)); err != nil {
		return phaseengine.WinnerNone, apperr.NewProtocolError("gamelog: " + err.Error())
	}

	for {
		if err := s.runNight(ctx); err != nil {
			return phaseengine.WinnerNone, err
		}
		if winner, done, err := s.checkWin(ctx); err != nil {
			return phaseengine.WinnerNone, err
		} else if done {
			return winner, nil
		}

		if err := s.Engine.ExecuteDay(ctx); err != nil {
			return phaseengine.WinnerNone, err
		}
		s.broadcastSpectator("day", nil)

		if err := s.runVote(ctx); err != nil {
			return phaseengine.WinnerNone, err
		}
		if winner, done, err := s.checkWin(ctx); err != nil {
			return phaseengine.WinnerNone, err
		} else if done {
			return winner, nil
		}
	}
}

func (s *Session) runNight(ctx context.Context) error {
	target := -1
	policeTarget := -1
	if s.action != nil {
		target = s.action(ctx, phaseengine.PhaseNight, s.LocalRole, s.Engine.Survivors())
		if s.LocalRole == roles.Police {
			policeTarget = target
		}
	}

	if err := s.Engine.ExecuteNight(ctx, phaseengine.NightRequest{
		LocalTarget:  target,
		LocalRole:    s.LocalRole,
		PoliceIndex:  s.PoliceIndex,
		PoliceTarget: policeTarget,
	}); err != nil {
		return err
	}

	result := gamelog.NightResult{
		Day:           s.Engine.Day,
		KilledIndices: append([]int{}, s.Engine.LastKilled...),
		NumPlayers:    len(s.Engine.Players),
	}
	if err := s.Store.LogNightResult(ctx, s.GameID, result); err != nil {
		return apperr.NewProtocolError("gamelog: " + err.Error())
	}
	s.broadcastSpectator("night_result", result)
	return nil
}

func (s *Session) runVote(ctx context.Context) error {
	target := -1
	if s.action != nil {
		target = s.action(ctx, phaseengine.PhaseVote, s.LocalRole, s.Engine.Survivors())
	}

	if err := s.Engine.ExecuteVote(ctx, target, nil); err != nil {
		return err
	}

	result := gamelog.VoteResult{
		Day:        s.Engine.Day,
		VoteVector: s.Engine.LastVoteCounts,
		VotedOut:   s.Engine.LastVotedOut,
		NumPlayers: len(s.Engine.Players),
	}
	if err := s.Store.LogVoteResult(ctx, s.GameID, result); err != nil {
		return apperr.NewProtocolError("gamelog: " + err.Error())
	}
	s.broadcastSpectator("vote_result", result)
	return nil
}

func (s *Session) checkWin(ctx context.Context) (phaseengine.Winner, bool, error) {
	winner, err := s.Engine.CheckWin(ctx, s.LocalRole)
	if err != nil {
		return phaseengine.WinnerNone, false, err
	}
	if winner == phaseengine.WinnerNone {
		return phaseengine.WinnerNone, false, nil
	}

	s.Engine.Phase = phaseengine.PhaseEnd
	end := gamelog.GameEnd{
		Winner:    string(winner),
		Survivors: s.Engine.Survivors(),
		Day:       s.Engine.Day,
	}
	if err := s.Store.LogGameEnd(ctx, s.GameID, end); err != nil {
		return winner, true, apperr.NewProtocolError("gamelog: " + err.Error())
	}
	s.broadcastSpectator("game_end", end)

	revealed, err := s.Engine.RevealAllRoles(ctx)
	if err != nil {
		return winner, true, err
	}
	names := make([]string, len(revealed))
	for i, r := range revealed {
		names[i] = r.String()
	}
	s.broadcastSpectator("final_reveal", names)
	return winner, true, nil
}
