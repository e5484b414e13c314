package store

import (
	"time"

	"github.com/eeSquared/musicleague-bot/internal/db"
	"github.com/eeSquared/musicleague-bot/internal/league"
)

func toGuild(row db.Guild) league.Guild {
	g := league.Guild{
		ID: row.GuildID,
		Settings: league.Settings{
			SubmissionWindow:      seconds(row.SubmissionWindowSeconds),
			VotingWindow:          seconds(row.VotingWindowSeconds),
			ThemeSubmissionWindow: seconds(row.ThemeSubmissionWindowSeconds),
			ThemeVotingWindow:     seconds(row.ThemeVotingWindowSeconds),
			ChannelID:             deref(row.ChannelID),
			ReminderRoleID:        deref(row.ReminderRoleID),
		},
	}
	if row.ActiveRoundID != nil {
		g.ActiveRoundID = *row.ActiveRoundID
	}
	return g
}

func applyGuild(row *db.Guild, g league.Guild) {
	row.SubmissionWindowSeconds = int64(g.Settings.SubmissionWindow / time.Second)
	row.VotingWindowSeconds = int64(g.Settings.VotingWindow / time.Second)
	row.ThemeSubmissionWindowSeconds = int64(g.Settings.ThemeSubmissionWindow / time.Second)
	row.ThemeVotingWindowSeconds = int64(g.Settings.ThemeVotingWindow / time.Second)
	row.ChannelID = nullable(g.Settings.ChannelID)
	row.ReminderRoleID = nullable(g.Settings.ReminderRoleID)
}

func toRound(row db.Round) league.Round {
	return league.Round{
		ID:                     row.ID,
		GuildID:                row.GuildID,
		Number:                 row.Number,
		Theme:                  row.Theme,
		Phase:                  league.Phase(row.Phase),
		ThemePhase:             league.ThemePhase(row.ThemePhase),
		CreatedAt:              row.CreatedAt.UTC(),
		SubmissionEnd:          row.SubmissionEnd.UTC(),
		VotingEnd:              row.VotingEnd.UTC(),
		ThemeSubmissionEnd:     derefTime(row.ThemeSubmissionEnd),
		ThemeVotingEnd:         derefTime(row.ThemeVotingEnd),
		SubmissionReminderSent: row.SubmissionReminderSent,
		VotingReminderSent:     row.VotingReminderSent,
		EligibleEntries:        row.EligibleEntries,
		WinningTheme:           deref(row.WinningTheme),
		Announcement:           toRef(row.Announcement),
		VotingMessage:          toRef(row.VotingMessage),
		ResultsMessage:         toRef(row.ResultsMessage),
		ThemeSubmissionMessage: toRef(row.ThemeSubmissionMessage),
		ThemeVotingMessage:     toRef(row.ThemeVotingMessage),
	}
}

// applyRound copies the mutable fields of r onto row. Identity columns are
// left alone.
func applyRound(row *db.Round, r league.Round) {
	row.Theme = r.Theme
	row.Phase = string(r.Phase)
	row.ThemePhase = string(r.ThemePhase)
	row.SubmissionEnd = r.SubmissionEnd
	row.VotingEnd = r.VotingEnd
	row.ThemeSubmissionEnd = timePtr(r.ThemeSubmissionEnd)
	row.ThemeVotingEnd = timePtr(r.ThemeVotingEnd)
	row.SubmissionReminderSent = r.SubmissionReminderSent
	row.VotingReminderSent = r.VotingReminderSent
	row.EligibleEntries = r.EligibleEntries
	row.WinningTheme = nullable(r.WinningTheme)
	row.Announcement = fromRef(r.Announcement)
	row.VotingMessage = fromRef(r.VotingMessage)
	row.ResultsMessage = fromRef(r.ResultsMessage)
	row.ThemeSubmissionMessage = fromRef(r.ThemeSubmissionMessage)
	row.ThemeVotingMessage = fromRef(r.ThemeVotingMessage)
}

func toEntry(row db.Submission) league.Entry {
	return league.Entry{
		ID:          row.ID,
		RoundID:     row.RoundID,
		UserID:      row.Player.UserID,
		Content:     row.Content,
		Description: deref(row.Description),
		Votes:       row.Votes,
		Excluded:    row.Excluded,
		SubmittedAt: row.SubmittedAt.UTC(),
	}
}

func toProposal(row db.ThemeSubmission) league.ThemeProposal {
	return league.ThemeProposal{
		ID:          row.ID,
		RoundID:     row.RoundID,
		UserID:      row.Player.UserID,
		Theme:       row.Theme,
		Description: deref(row.Description),
		Votes:       row.Votes,
		SubmittedAt: row.SubmittedAt.UTC(),
	}
}

func toParticipant(row db.Player) league.Participant {
	return league.Participant{GuildID: row.GuildID, UserID: row.UserID, TotalScore: row.TotalScore}
}

func toRef(ref db.MessageRef) league.MessageRef {
	return league.MessageRef{ChannelID: deref(ref.ChannelID), MessageID: deref(ref.MessageID)}
}

func fromRef(ref league.MessageRef) db.MessageRef {
	if ref.IsZero() {
		return db.MessageRef{}
	}
	return db.MessageRef{ChannelID: nullable(ref.ChannelID), MessageID: nullable(ref.MessageID)}
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	// stored in UTC so SQL comparisons against bound times line up
	utc := t.UTC()
	return &utc
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
