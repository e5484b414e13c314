package league

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errTransitionSkipped reports that the transition's artifact already
// exists, so the call was a no-op.
var errTransitionSkipped = errors.New("transition already applied")

type phaseTransition struct {
	name    string
	due     func(r Round, now time.Time) bool
	advance func(e *Engine, ctx context.Context, g Guild, r Round, now time.Time) error
}

// roundTransitions are evaluated in order; at most one fires per sweep.
var roundTransitions = []phaseTransition{
	{
		name: "open_voting",
		due: func(r Round, now time.Time) bool {
			return r.Phase == PhaseSubmission && !now.Before(r.SubmissionEnd) && r.VotingMessage.IsZero()
		},
		advance: (*Engine).openVoting,
	},
	{
		name: "complete_round",
		due: func(r Round, now time.Time) bool {
			return r.Phase == PhaseVoting && !now.Before(r.VotingEnd)
		},
		advance: (*Engine).completeRound,
	},
}

var themeTransitions = []phaseTransition{
	{
		name: "open_theme_voting",
		due: func(r Round, now time.Time) bool {
			return r.Completed() && r.ThemePhase == ThemeProposing &&
				!now.Before(r.ThemeSubmissionEnd) && r.ThemeVotingMessage.IsZero()
		},
		advance: (*Engine).openThemeVoting,
	},
	{
		name: "close_theme_voting",
		due: func(r Round, now time.Time) bool {
			return r.Completed() && r.ThemePhase == ThemeVoting &&
				!now.Before(r.ThemeVotingEnd) && !r.ThemeVotingMessage.IsZero()
		},
		advance: (*Engine).closeThemeVoting,
	},
}

// AdvanceGuild evaluates the guild's active round against the clock:
// reminders first, then the submission deadline, then the voting deadline.
func (e *Engine) AdvanceGuild(ctx context.Context, guildID string) error {
	unlock := e.locks.lock(guildID)
	defer unlock()

	round, err := e.store.ActiveRound(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	guild, err := e.store.EnsureGuild(ctx, guildID, e.opts.Defaults)
	if err != nil {
		return err
	}
	now := e.now()

	round = e.sendReminders(ctx, guild, round, now)
	for _, t := range roundTransitions {
		if t.due(round, now) {
			return e.apply(ctx, t, guild, round, now)
		}
	}
	return nil
}

// AdvanceThemeCycle evaluates the theme sub-cycle of a completed round.
func (e *Engine) AdvanceThemeCycle(ctx context.Context, roundID uint) error {
	round, err := e.store.Round(ctx, roundID)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(round.GuildID)
	defer unlock()

	// reload under the guild lock
	round, err = e.store.Round(ctx, roundID)
	if err != nil {
		return err
	}
	guild, err := e.store.EnsureGuild(ctx, round.GuildID, e.opts.Defaults)
	if err != nil {
		return err
	}
	now := e.now()
	for _, t := range themeTransitions {
		if t.due(round, now) {
			return e.apply(ctx, t, guild, round, now)
		}
	}
	return nil
}

// OpenVoting runs the submission-deadline transition for one round if it
// is due. Calling it again after it fired is a no-op.
func (e *Engine) OpenVoting(ctx context.Context, roundID uint) error {
	return e.runNamed(ctx, roundTransitions[0], roundID)
}

// CompleteRound runs the voting-deadline transition for one round if due.
func (e *Engine) CompleteRound(ctx context.Context, roundID uint) error {
	return e.runNamed(ctx, roundTransitions[1], roundID)
}

func (e *Engine) runNamed(ctx context.Context, t phaseTransition, roundID uint) error {
	round, err := e.store.Round(ctx, roundID)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(round.GuildID)
	defer unlock()

	round, err = e.store.Round(ctx, roundID)
	if err != nil {
		return err
	}
	now := e.now()
	if !t.due(round, now) {
		return nil
	}
	guild, err := e.store.EnsureGuild(ctx, round.GuildID, e.opts.Defaults)
	if err != nil {
		return err
	}
	return e.apply(ctx, t, guild, round, now)
}

func (e *Engine) apply(ctx context.Context, t phaseTransition, g Guild, r Round, now time.Time) error {
	ctx, span := e.tracer.Start(ctx, "league."+t.name, trace.WithAttributes(
		attribute.String("guild.id", g.ID),
		attribute.Int64("round.id", int64(r.ID)),
		attribute.Int("round.number", r.Number),
	))
	defer span.End()

	err := t.advance(e, ctx, g, r, now)
	if errors.Is(err, errTransitionSkipped) {
		e.logger.Info("transition already applied", "transition", t.name, "guild_id", g.ID, "round_id", r.ID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.observer.Transition(t.name)
	e.logger.Info("round transition", "transition", t.name, "guild_id", g.ID, "round_id", r.ID, "number", r.Number)
	return nil
}
