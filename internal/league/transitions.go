package league

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"
)

func (e *Engine) openVoting(ctx context.Context, g Guild, r Round, now time.Time) error {
	entries, err := e.store.Entries(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return e.closeEmptyRound(ctx, g, r)
	}

	eligible, excluded := entries, []Entry(nil)
	if len(entries) > e.opts.MarkerBudget {
		eligible, excluded = entries[:e.opts.MarkerBudget], entries[e.opts.MarkerBudget:]
		e.logger.Warn("entries exceed marker budget, later entries excluded from voting",
			"guild_id", g.ID, "round_id", r.ID, "entries", len(entries), "budget", e.opts.MarkerBudget)
	}

	ref, err := e.postTracked(ctx, g, r.ID, Notice{
		Kind:         NoticeVotingOpened,
		Round:        r,
		Deadline:     r.VotingEnd,
		Entries:      eligible,
		Excluded:     excluded,
		VotesPerUser: e.opts.VotesPerUser,
	})
	if err != nil {
		// nothing recorded, the next sweep retries
		return err
	}

	gctx, cancel := e.gatewayCtx(ctx)
	attached, err := e.gateway.AddMarkers(gctx, ref, len(eligible))
	if err != nil {
		e.observer.GatewayError("add_markers")
		e.logger.Warn("add voting markers failed", "guild_id", g.ID, "round_id", r.ID, "attached", attached, "error", err)
	}
	if err := e.gateway.Pin(gctx, ref); err != nil {
		e.observer.GatewayError("pin")
		e.logger.Warn("pin voting prompt failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
	}
	cancel()

	_, err = e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
		round := tx.Round()
		if round.Phase != PhaseSubmission || !round.VotingMessage.IsZero() {
			e.logger.Warn("voting prompt posted twice", "guild_id", g.ID, "round_id", r.ID, "message_id", ref.MessageID)
			return errTransitionSkipped
		}
		round.Phase = PhaseVoting
		round.VotingMessage = ref
		round.EligibleEntries = len(eligible)
		for _, entry := range excluded {
			if err := tx.SetEntryResult(entry.ID, 0, true); err != nil {
				return err
			}
		}
		if err := tx.RecordEvent(recordedEvent(NoticeVotingOpened), ref); err != nil {
			return err
		}
		return tx.RecordEvent("voting_opened", map[string]any{
			"eligible": len(eligible),
			"excluded": len(excluded),
		})
	})
	return err
}

// closeEmptyRound completes a round that reached its submission deadline
// without entries. No voting prompt and no theme sub-cycle follow.
func (e *Engine) closeEmptyRound(ctx context.Context, g Guild, r Round) error {
	round, err := e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
		round := tx.Round()
		if round.Phase != PhaseSubmission || !round.VotingMessage.IsZero() {
			return errTransitionSkipped
		}
		round.Phase = PhaseCompleted
		return tx.RecordEvent("round_completed", map[string]any{"entries": 0})
	})
	if err != nil {
		return err
	}

	ref, err := e.postTracked(ctx, g, r.ID, Notice{Kind: NoticeNoSubmissions, Round: round})
	if err != nil {
		e.logger.Warn("no-submissions notice failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
		return nil
	}
	e.recordMessage(ctx, r.ID, NoticeNoSubmissions, ref, func(r *Round) { r.ResultsMessage = ref })
	return nil
}

func (e *Engine) completeRound(ctx context.Context, g Guild, r Round, now time.Time) error {
	tallies := make([]int, r.EligibleEntries)
	if !r.VotingMessage.IsZero() && r.EligibleEntries > 0 {
		gctx, cancel := e.gatewayCtx(ctx)
		counted, err := e.gateway.FetchTallies(gctx, r.VotingMessage, r.EligibleEntries)
		cancel()
		if err != nil {
			// a round never hangs in voting for lack of its prompt
			e.observer.GatewayError("fetch_tallies")
			e.logger.Warn("fetch tallies failed, counting zero votes", "guild_id", g.ID, "round_id", r.ID, "error", err)
		} else {
			copy(tallies, counted)
		}
	}

	var results []Ranked[Entry]
	round, err := e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
		round := tx.Round()
		if round.Completed() {
			return errTransitionSkipped
		}
		entries, err := tx.Entries()
		if err != nil {
			return err
		}
		for i := range entries {
			votes, excluded := 0, i >= round.EligibleEntries
			if !excluded && i < len(tallies) {
				votes = max(tallies[i], 0)
			}
			entries[i].Votes, entries[i].Excluded = votes, excluded
			if err := tx.SetEntryResult(entries[i].ID, votes, excluded); err != nil {
				return err
			}
		}

		results = RankEntries(entries)
		deltas := ScoreDeltas(results)
		for _, userID := range slices.Sorted(maps.Keys(deltas)) {
			if err := tx.AddScore(userID, deltas[userID]); err != nil {
				return err
			}
		}

		round.Phase = PhaseCompleted
		round.ThemePhase = ThemeProposing
		round.ThemeSubmissionEnd = now.Add(g.Settings.ThemeSubmissionWindow)
		round.ThemeVotingEnd = round.ThemeSubmissionEnd.Add(g.Settings.ThemeVotingWindow)
		return tx.RecordEvent("round_completed", map[string]any{
			"entries": len(entries),
			"results": results,
		})
	})
	if err != nil {
		return err
	}

	if !r.VotingMessage.IsZero() {
		gctx, cancel := e.gatewayCtx(ctx)
		if err := e.gateway.Unpin(gctx, r.VotingMessage); err != nil {
			e.observer.GatewayError("unpin")
			e.logger.Warn("unpin voting prompt failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
		}
		cancel()
	}

	standings, err := e.store.Leaderboard(ctx, g.ID, DefaultLeaderboardLimit)
	if err != nil {
		e.logger.Warn("load standings failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
	}
	ref, err := e.postTracked(ctx, g, r.ID, Notice{Kind: NoticeResults, Round: round, Results: results, Standings: standings})
	if err != nil {
		e.logger.Error("results post failed after completion", "guild_id", g.ID, "round_id", r.ID, "error", err)
	} else {
		e.recordMessage(ctx, r.ID, NoticeResults, ref, func(r *Round) { r.ResultsMessage = ref })
	}

	ref, err = e.postTracked(ctx, g, r.ID, Notice{Kind: NoticeThemeSubmissionOpened, Round: round, Deadline: round.ThemeSubmissionEnd})
	if err != nil {
		e.logger.Warn("theme submission prompt failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
		return nil
	}
	e.recordMessage(ctx, r.ID, NoticeThemeSubmissionOpened, ref, func(r *Round) { r.ThemeSubmissionMessage = ref })
	return nil
}

func (e *Engine) openThemeVoting(ctx context.Context, g Guild, r Round, now time.Time) error {
	proposals, err := e.store.Proposals(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load proposals: %w", err)
	}
	if len(proposals) == 0 {
		_, err := e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
			round := tx.Round()
			if round.ThemePhase != ThemeProposing {
				return errTransitionSkipped
			}
			round.ThemePhase = ThemeDone
			return tx.RecordEvent("theme_cycle_abandoned", map[string]any{"proposals": 0})
		})
		return err
	}

	eligible := proposals[:min(len(proposals), e.opts.MarkerBudget)]
	ref, err := e.postTracked(ctx, g, r.ID, Notice{
		Kind:      NoticeThemeVotingOpened,
		Round:     r,
		Deadline:  r.ThemeVotingEnd,
		Proposals: eligible,
	})
	if err != nil {
		return err
	}
	gctx, cancel := e.gatewayCtx(ctx)
	if _, err := e.gateway.AddMarkers(gctx, ref, len(eligible)); err != nil {
		e.observer.GatewayError("add_markers")
		e.logger.Warn("add theme markers failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
	}
	cancel()

	_, err = e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
		round := tx.Round()
		if round.ThemePhase != ThemeProposing || !round.ThemeVotingMessage.IsZero() {
			e.logger.Warn("theme voting prompt posted twice", "guild_id", g.ID, "round_id", r.ID, "message_id", ref.MessageID)
			return errTransitionSkipped
		}
		round.ThemePhase = ThemeVoting
		round.ThemeVotingMessage = ref
		if err := tx.RecordEvent(recordedEvent(NoticeThemeVotingOpened), ref); err != nil {
			return err
		}
		return tx.RecordEvent("theme_voting_opened", map[string]any{"proposals": len(eligible)})
	})
	return err
}

func (e *Engine) closeThemeVoting(ctx context.Context, g Guild, r Round, now time.Time) error {
	proposals, err := e.store.Proposals(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load proposals: %w", err)
	}
	count := min(len(proposals), e.opts.MarkerBudget)
	tallies := make([]int, count)
	if count > 0 {
		gctx, cancel := e.gatewayCtx(ctx)
		counted, err := e.gateway.FetchTallies(gctx, r.ThemeVotingMessage, count)
		cancel()
		if err != nil {
			e.observer.GatewayError("fetch_tallies")
			e.logger.Warn("fetch theme tallies failed, counting zero votes", "guild_id", g.ID, "round_id", r.ID, "error", err)
		} else {
			copy(tallies, counted)
		}
	}

	var ranked []Ranked[ThemeProposal]
	round, err := e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
		round := tx.Round()
		if round.ThemePhase != ThemeVoting {
			return errTransitionSkipped
		}
		proposals, err := tx.Proposals()
		if err != nil {
			return err
		}
		for i := range proposals {
			votes := 0
			if i < len(tallies) {
				votes = max(tallies[i], 0)
			}
			proposals[i].Votes = votes
			if err := tx.SetProposalVotes(proposals[i].ID, votes); err != nil {
				return err
			}
		}
		ranked = Rank(proposals, proposalVotes)
		if winner, ok := WinningTheme(proposals); ok {
			round.WinningTheme = winner.Item.Theme
		}
		round.ThemePhase = ThemeDone
		return tx.RecordEvent("theme_vote_closed", map[string]any{"winning_theme": round.WinningTheme})
	})
	if err != nil {
		return err
	}

	if _, err := e.post(ctx, g, Notice{Kind: NoticeThemeResult, Round: round, ThemeResults: ranked}); err != nil {
		e.logger.Warn("theme result post failed", "guild_id", g.ID, "round_id", r.ID, "error", err)
	}
	return nil
}

// recordMessage stores the id of a message posted after the transition's
// state change was committed.
func (e *Engine) recordMessage(ctx context.Context, roundID uint, kind NoticeKind, ref MessageRef, set func(r *Round)) {
	_, err := e.store.UpdateRound(ctx, roundID, func(tx RoundTx) error {
		set(tx.Round())
		return tx.RecordEvent(recordedEvent(kind), ref)
	})
	if err != nil {
		e.logger.Error("record message id failed", "round_id", roundID, "kind", kind, "message_id", ref.MessageID, "error", err)
	}
}
