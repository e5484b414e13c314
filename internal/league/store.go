package league

import (
	"context"
	"time"
)

// Store persists guilds, participants, rounds, entries and theme proposals.
// Lookups return ErrNotFound when nothing matches.
type Store interface {
	// EnsureGuild returns the guild, creating it with defaults on first use.
	EnsureGuild(ctx context.Context, guildID string, defaults Settings) (Guild, error)
	Guilds(ctx context.Context) ([]Guild, error)
	UpdateGuild(ctx context.Context, guildID string, update func(g *Guild) error) (Guild, error)
	EnsureParticipant(ctx context.Context, guildID, userID string) (Participant, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]Participant, error)

	// CreateRound assigns the next per-guild number and marks the round as
	// the guild's active round. It fails with ErrActiveRound when the guild
	// already has a round that is not completed.
	CreateRound(ctx context.Context, round Round) (Round, error)
	Round(ctx context.Context, id uint) (Round, error)
	ActiveRound(ctx context.Context, guildID string) (Round, error)
	LatestCompletedRound(ctx context.Context, guildID string) (Round, error)
	// ThemeProposalRound returns the newest completed round of the guild
	// whose theme proposals are still open at now.
	ThemeProposalRound(ctx context.Context, guildID string, now time.Time) (Round, error)
	Rounds(ctx context.Context, guildID string) ([]Round, error)
	RoundByVotingMessage(ctx context.Context, guildID, messageID string) (Round, error)
	// OpenThemeCycles lists completed rounds whose theme sub-cycle is in
	// ThemeProposal or ThemeVoting.
	OpenThemeCycles(ctx context.Context) ([]Round, error)
	Entries(ctx context.Context, roundID uint) ([]Entry, error)
	Proposals(ctx context.Context, roundID uint) ([]ThemeProposal, error)

	// UpdateRound runs update atomically against the round with the given
	// id. Changes made through tx are committed only when update returns
	// nil. Completing the round releases the guild's active round.
	UpdateRound(ctx context.Context, id uint, update func(tx RoundTx) error) (Round, error)
}

// RoundTx is the read-modify-write view of one round inside UpdateRound.
// Entries and proposals come back in submission order.
type RoundTx interface {
	Round() *Round
	Guild() Guild
	Entries() ([]Entry, error)
	UpsertEntry(userID, content, description string, at time.Time) (Entry, bool, error)
	SetEntryResult(entryID uint, votes int, excluded bool) error
	AddScore(userID string, delta int) error
	Proposals() ([]ThemeProposal, error)
	UpsertProposal(userID, theme, description string, at time.Time) (ThemeProposal, bool, error)
	SetProposalVotes(proposalID uint, votes int) error
	RecordEvent(kind string, payload any) error
	EventCount(kind string) (int64, error)
}
