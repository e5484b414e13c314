package league

import (
	"context"
	"time"
)

// Gateway is the engine's view of the chat platform. Implementations own
// message formatting, channel discovery and marker (emoji) selection.
type Gateway interface {
	// Post renders n and posts it to channelHint when writable, else to the
	// first writable channel of the guild.
	Post(ctx context.Context, guildID, channelHint string, n Notice) (MessageRef, error)
	// AddMarkers attaches the first count voting markers to ref and returns
	// how many were attached.
	AddMarkers(ctx context.Context, ref MessageRef, count int) (int, error)
	// FetchTallies returns, per marker index below count, the number of
	// distinct voters excluding the bot's own marker.
	FetchTallies(ctx context.Context, ref MessageRef, count int) ([]int, error)
	ResolveRole(ctx context.Context, guildID, roleHint string) (Role, bool, error)
	ResolveChannel(ctx context.Context, guildID, channelHint string) (string, error)
	Pin(ctx context.Context, ref MessageRef) error
	Unpin(ctx context.Context, ref MessageRef) error
	// UserMarkers returns the marker indexes below count that userID has
	// placed on ref.
	UserMarkers(ctx context.Context, ref MessageRef, userID string, count int) ([]int, error)
	RemoveMarker(ctx context.Context, ref MessageRef, userID string, marker int) error
}

type NoticeKind string

const (
	NoticeRoundStarted          NoticeKind = "round_started"
	NoticeVotingOpened          NoticeKind = "voting_opened"
	NoticeNoSubmissions         NoticeKind = "no_submissions"
	NoticeResults               NoticeKind = "results"
	NoticeReminder              NoticeKind = "reminder"
	NoticeThemeSubmissionOpened NoticeKind = "theme_submission_opened"
	NoticeThemeVotingOpened     NoticeKind = "theme_voting_opened"
	NoticeThemeResult           NoticeKind = "theme_result"
)

// Notice is a structured message the engine asks the gateway to publish.
// Only the fields relevant to Kind are set.
type Notice struct {
	Kind         NoticeKind
	Round        Round
	Deadline     time.Time
	Phase        Phase
	Role         Role
	VotesPerUser int

	// voting prompt: eligible entries in marker order, then the truncated rest
	Entries  []Entry
	Excluded []Entry

	Results   []Ranked[Entry]
	Standings []Participant

	Proposals    []ThemeProposal
	ThemeResults []Ranked[ThemeProposal]
}
