package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
)

var contractStart = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

// runStoreContract exercises a league.Store implementation. Every store must
// pass it unchanged.
func runStoreContract(t *testing.T, newStore func(t *testing.T) league.Store) {
	t.Run("EnsureGuildIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		defaults := league.DefaultSettings()

		first, err := s.EnsureGuild(ctx, "g1", defaults)
		require.NoError(t, err)
		require.Equal(t, "g1", first.ID)
		require.Equal(t, defaults.VotingWindow, first.Settings.VotingWindow)

		updated, err := s.UpdateGuild(ctx, "g1", func(g *league.Guild) error {
			g.Settings.VotingWindow = 96 * time.Hour
			g.Settings.ChannelID = "chan-1"
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 96*time.Hour, updated.Settings.VotingWindow)

		again, err := s.EnsureGuild(ctx, "g1", defaults)
		require.NoError(t, err)
		require.Equal(t, 96*time.Hour, again.Settings.VotingWindow)
		require.Equal(t, "chan-1", again.Settings.ChannelID)
	})

	t.Run("SingleActiveRoundPerGuild", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		mustGuild(t, s, "g2")

		first := mustRound(t, s, "g1", "Covers")
		require.Equal(t, 1, first.Number)

		_, err := s.CreateRound(ctx, newRound("g1", "Another"))
		require.ErrorIs(t, err, league.ErrActiveRound)

		other := mustRound(t, s, "g2", "Unrelated")
		require.Equal(t, 1, other.Number)

		_, err = s.UpdateRound(ctx, first.ID, func(tx league.RoundTx) error {
			tx.Round().Phase = league.PhaseCompleted
			return nil
		})
		require.NoError(t, err)

		_, err = s.ActiveRound(ctx, "g1")
		require.ErrorIs(t, err, league.ErrNotFound)

		second := mustRound(t, s, "g1", "Road trip")
		require.Equal(t, 2, second.Number)

		active, err := s.ActiveRound(ctx, "g1")
		require.NoError(t, err)
		require.Equal(t, second.ID, active.ID)

		latest, err := s.LatestCompletedRound(ctx, "g1")
		require.NoError(t, err)
		require.Equal(t, first.ID, latest.ID)

		rounds, err := s.Rounds(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		require.Equal(t, 2, rounds[0].Number)
	})

	t.Run("ResubmissionKeepsIdentity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")

		var first, second league.Entry
		_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			var created bool
			var err error
			first, created, err = tx.UpsertEntry("alice", "https://example.com/a", "", contractStart)
			require.True(t, created)
			return err
		})
		require.NoError(t, err)

		later := contractStart.Add(time.Hour)
		_, err = s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			var created bool
			var err error
			second, created, err = tx.UpsertEntry("alice", "https://example.com/b", "changed my mind", later)
			require.False(t, created)
			return err
		})
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)

		entries, err := s.Entries(ctx, round.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "https://example.com/b", entries[0].Content)
		require.Equal(t, "changed my mind", entries[0].Description)
		require.True(t, entries[0].SubmittedAt.Equal(later))
		require.Equal(t, "alice", entries[0].UserID)
	})

	t.Run("FailedUpdateRollsBack", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")
		boom := errors.New("boom")

		_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			if _, _, err := tx.UpsertEntry("alice", "song", "", contractStart); err != nil {
				return err
			}
			if err := tx.AddScore("alice", 9); err != nil {
				return err
			}
			tx.Round().Phase = league.PhaseVoting
			return boom
		})
		require.ErrorIs(t, err, boom)

		reloaded, err := s.Round(ctx, round.ID)
		require.NoError(t, err)
		require.Equal(t, league.PhaseSubmission, reloaded.Phase)
		entries, err := s.Entries(ctx, round.ID)
		require.NoError(t, err)
		require.Empty(t, entries)
		board, err := s.Leaderboard(ctx, "g1", 5)
		require.NoError(t, err)
		for _, p := range board {
			require.Zero(t, p.TotalScore)
		}
	})

	t.Run("EntriesKeepSubmissionOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")
		faker := gofakeit.New(7)

		var users []string
		for i := 0; i < 12; i++ {
			users = append(users, faker.Username()+faker.DigitN(4))
		}
		for i, user := range users {
			_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
				_, _, err := tx.UpsertEntry(user, faker.URL(), faker.Phrase(), contractStart.Add(time.Duration(i)*time.Minute))
				return err
			})
			require.NoError(t, err)
		}

		entries, err := s.Entries(ctx, round.ID)
		require.NoError(t, err)
		require.Len(t, entries, len(users))
		for i, entry := range entries {
			require.Equal(t, users[i], entry.UserID)
		}
	})

	t.Run("ScoresAndLeaderboard", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")

		_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			for _, user := range []string{"carol", "alice", "bob"} {
				if _, _, err := tx.UpsertEntry(user, "song by "+user, "", contractStart); err != nil {
					return err
				}
			}
			if err := tx.AddScore("alice", 5); err != nil {
				return err
			}
			if err := tx.AddScore("bob", 2); err != nil {
				return err
			}
			return tx.AddScore("carol", 2)
		})
		require.NoError(t, err)

		board, err := s.Leaderboard(ctx, "g1", 2)
		require.NoError(t, err)
		require.Len(t, board, 2)
		require.Equal(t, "alice", board[0].UserID)
		require.Equal(t, 5, board[0].TotalScore)
		require.Equal(t, 2, board[1].TotalScore)
		require.Equal(t, "carol", board[1].UserID, "ties keep first-seen order")
	})

	t.Run("VotingMessageAndThemeCycles", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")

		_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			r := tx.Round()
			r.Phase = league.PhaseVoting
			r.VotingMessage = league.MessageRef{ChannelID: "c1", MessageID: "m1"}
			r.EligibleEntries = 3
			return tx.RecordEvent("voting_opened", map[string]int{"eligible": 3})
		})
		require.NoError(t, err)

		found, err := s.RoundByVotingMessage(ctx, "g1", "m1")
		require.NoError(t, err)
		require.Equal(t, round.ID, found.ID)
		require.Equal(t, "c1", found.VotingMessage.ChannelID)
		require.Equal(t, 3, found.EligibleEntries)

		_, err = s.RoundByVotingMessage(ctx, "g2", "m1")
		require.ErrorIs(t, err, league.ErrNotFound)

		cycles, err := s.OpenThemeCycles(ctx)
		require.NoError(t, err)
		require.Empty(t, cycles)

		themeEnd := contractStart.Add(48 * time.Hour)
		_, err = s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			r := tx.Round()
			r.Phase = league.PhaseCompleted
			r.ThemePhase = league.ThemeProposing
			r.ThemeSubmissionEnd = themeEnd
			r.ThemeVotingEnd = themeEnd.Add(48 * time.Hour)
			_, _, err := tx.UpsertProposal("alice", "Road trip", "", contractStart)
			return err
		})
		require.NoError(t, err)

		cycles, err = s.OpenThemeCycles(ctx)
		require.NoError(t, err)
		require.Len(t, cycles, 1)
		require.True(t, cycles[0].ThemeSubmissionEnd.Equal(themeEnd))

		empty := mustRound(t, s, "g1", "Quiet round")
		_, err = s.UpdateRound(ctx, empty.ID, func(tx league.RoundTx) error {
			tx.Round().Phase = league.PhaseCompleted
			return nil
		})
		require.NoError(t, err)

		open, err := s.ThemeProposalRound(ctx, "g1", themeEnd.Add(-time.Minute))
		require.NoError(t, err)
		require.Equal(t, round.ID, open.ID)
		_, err = s.ThemeProposalRound(ctx, "g1", themeEnd)
		require.ErrorIs(t, err, league.ErrNotFound)
		_, err = s.ThemeProposalRound(ctx, "g2", contractStart)
		require.ErrorIs(t, err, league.ErrNotFound)

		proposals, err := s.Proposals(ctx, round.ID)
		require.NoError(t, err)
		require.Len(t, proposals, 1)
		require.Equal(t, "Road trip", proposals[0].Theme)
	})

	t.Run("EventCountIncludesPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustGuild(t, s, "g1")
		round := mustRound(t, s, "g1", "Covers")

		_, err := s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			return tx.RecordEvent("post_intent:results", map[string]string{"kind": "results"})
		})
		require.NoError(t, err)

		_, err = s.UpdateRound(ctx, round.ID, func(tx league.RoundTx) error {
			if err := tx.RecordEvent("post_intent:results", nil); err != nil {
				return err
			}
			n, err := tx.EventCount("post_intent:results")
			require.NoError(t, err)
			require.EqualValues(t, 2, n)
			return nil
		})
		require.NoError(t, err)
	})
}

func mustGuild(t *testing.T, s league.Store, guildID string) league.Guild {
	t.Helper()
	g, err := s.EnsureGuild(context.Background(), guildID, league.DefaultSettings())
	if err != nil {
		t.Fatalf("ensure guild %s: %v", guildID, err)
	}
	return g
}

func mustRound(t *testing.T, s league.Store, guildID, theme string) league.Round {
	t.Helper()
	r, err := s.CreateRound(context.Background(), newRound(guildID, theme))
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	return r
}

func newRound(guildID, theme string) league.Round {
	return league.Round{
		GuildID:       guildID,
		Theme:         theme,
		Phase:         league.PhaseSubmission,
		ThemePhase:    league.ThemeNone,
		CreatedAt:     contractStart,
		SubmissionEnd: contractStart.Add(72 * time.Hour),
		VotingEnd:     contractStart.Add(144 * time.Hour),
	}
}
