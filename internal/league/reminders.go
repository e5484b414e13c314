package league

import (
	"context"
	"errors"
	"time"
)

const (
	reminderLead      = 24 * time.Hour
	reminderTolerance = 30 * time.Minute
)

// reminderDue reports whether now falls in the half-hour-wide window around
// 24 hours before deadline. A missed window is not retried.
func reminderDue(deadline, now time.Time, sent bool) bool {
	if sent || !now.Before(deadline) {
		return false
	}
	remaining := deadline.Sub(now)
	return remaining >= reminderLead-reminderTolerance && remaining <= reminderLead+reminderTolerance
}

// sendReminders posts due deadline reminders and returns the round with the
// flags it managed to set.
func (e *Engine) sendReminders(ctx context.Context, g Guild, r Round, now time.Time) Round {
	type reminder struct {
		phase    Phase
		deadline time.Time
		sent     bool
		mark     func(r *Round) bool
	}
	reminders := []reminder{
		{
			phase:    PhaseSubmission,
			deadline: r.SubmissionEnd,
			sent:     r.SubmissionReminderSent || r.Phase != PhaseSubmission,
			mark: func(r *Round) bool {
				already := r.SubmissionReminderSent
				r.SubmissionReminderSent = true
				return already
			},
		},
		{
			phase:    PhaseVoting,
			deadline: r.VotingEnd,
			sent:     r.VotingReminderSent || r.Phase != PhaseVoting,
			mark: func(r *Round) bool {
				already := r.VotingReminderSent
				r.VotingReminderSent = true
				return already
			},
		},
	}

	for _, rem := range reminders {
		if !reminderDue(rem.deadline, now, rem.sent) {
			continue
		}
		notice := Notice{Kind: NoticeReminder, Round: r, Phase: rem.phase, Deadline: rem.deadline}
		if roleID := g.Settings.ReminderRoleID; roleID != "" {
			gctx, cancel := e.gatewayCtx(ctx)
			role, ok, err := e.gateway.ResolveRole(gctx, g.ID, roleID)
			cancel()
			if err != nil {
				e.observer.GatewayError("resolve_role")
				e.logger.Warn("resolve reminder role failed", "guild_id", g.ID, "role_id", roleID, "error", err)
			} else if ok {
				notice.Role = role
			}
		}
		if _, err := e.post(ctx, g, notice); err != nil {
			e.logger.Warn("reminder post failed", "guild_id", g.ID, "round_id", r.ID, "phase", rem.phase, "error", err)
			continue
		}
		updated, err := e.store.UpdateRound(ctx, r.ID, func(tx RoundTx) error {
			if rem.mark(tx.Round()) {
				return errTransitionSkipped
			}
			return tx.RecordEvent("reminder_sent", map[string]any{"phase": rem.phase})
		})
		if err != nil {
			if !errors.Is(err, errTransitionSkipped) {
				e.logger.Error("record reminder failed", "guild_id", g.ID, "round_id", r.ID, "phase", rem.phase, "error", err)
			}
			continue
		}
		r = updated
		e.observer.ReminderSent(rem.phase)
		e.logger.Info("reminder sent", "guild_id", g.ID, "round_id", r.ID, "phase", rem.phase)
	}
	return r
}
