package league

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Stage string

const (
	StageSubmission Stage = "submission"
	StageVoting     Stage = "voting"
	StageTallying   Stage = "tallying"
)

type Status struct {
	Round    Round     `json:"round"`
	Stage    Stage     `json:"stage"`
	Entries  int       `json:"entries"`
	Deadline time.Time `json:"deadline,omitzero"`
	Next     string    `json:"next"`
}

// Status describes the guild's active round as of now.
func (e *Engine) Status(ctx context.Context, guildID string) (Status, error) {
	round, err := e.store.ActiveRound(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		next := "start one with /start"
		if suggestion, ok, _ := e.SuggestedTheme(ctx, guildID); ok {
			next = fmt.Sprintf("start one with /start; the last theme vote picked %q", suggestion)
		}
		return Status{}, reject(ErrNotFound, "there is no active round", next)
	}
	if err != nil {
		return Status{}, err
	}
	entries, err := e.store.Entries(ctx, round.ID)
	if err != nil {
		return Status{}, err
	}

	now := e.now()
	status := Status{Round: round, Entries: len(entries)}
	switch {
	case round.Phase == PhaseSubmission && now.Before(round.SubmissionEnd):
		status.Stage = StageSubmission
		status.Deadline = round.SubmissionEnd
		status.Next = "submit your music with /submit"
	case now.Before(round.VotingEnd):
		status.Stage = StageVoting
		status.Deadline = round.VotingEnd
		status.Next = "react to the voting prompt to cast your votes"
	default:
		status.Stage = StageTallying
		status.Next = "results will be posted shortly"
	}
	return status, nil
}

// Leaderboard returns the top participants by total score. limit is
// clamped to 1..25; zero means 5.
func (e *Engine) Leaderboard(ctx context.Context, guildID string, limit int) ([]Participant, error) {
	return e.store.Leaderboard(ctx, guildID, ClampLeaderboardLimit(limit))
}

func (e *Engine) Rounds(ctx context.Context, guildID string) ([]Round, error) {
	return e.store.Rounds(ctx, guildID)
}

// Results ranks a completed round's entries. Entries stay anonymous until
// the round completes.
func (e *Engine) Results(ctx context.Context, roundID uint) ([]Ranked[Entry], error) {
	round, err := e.store.Round(ctx, roundID)
	if errors.Is(err, ErrNotFound) {
		return nil, reject(ErrNotFound, fmt.Sprintf("round %d does not exist", roundID), "")
	}
	if err != nil {
		return nil, err
	}
	if !round.Completed() {
		return nil, reject(ErrValidation, "results are published when the round completes", "")
	}
	entries, err := e.store.Entries(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return RankEntries(entries), nil
}

// SuggestedTheme is the winner of the most recent finished theme vote.
func (e *Engine) SuggestedTheme(ctx context.Context, guildID string) (string, bool, error) {
	round, err := e.store.LatestCompletedRound(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if round.ThemePhase != ThemeDone || round.WinningTheme == "" {
		return "", false, nil
	}
	return round.WinningTheme, true, nil
}
