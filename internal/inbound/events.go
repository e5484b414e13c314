// Package inbound queues user actions from the chat platform and applies them
// to the league engine one at a time.
package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
)

const Topic = "league.inbound"

type Kind string

const (
	KindStart         Kind = "start"
	KindSubmit        Kind = "submit"
	KindSubmitTheme   Kind = "submit_theme"
	KindEndSubmission Kind = "end_submission"
	KindEndVoting     Kind = "end_voting"
	KindSettings      Kind = "settings"
	KindStatus        Kind = "status"
	KindLeaderboard   Kind = "leaderboard"
	KindVote          Kind = "vote"
)

// Event is one inbound action, serialised as the message payload.
type Event struct {
	Kind        Kind            `json:"kind"`
	GuildID     string          `json:"guild_id"`
	UserID      string          `json:"user_id,omitempty"`
	Theme       string          `json:"theme,omitempty"`
	Content     string          `json:"content,omitempty"`
	Description string          `json:"description,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	Marker      int             `json:"marker,omitempty"`
	Settings    *SettingsChange `json:"settings,omitempty"`
}

// SettingsChange mirrors the /settings options. Windows are whole days.
type SettingsChange struct {
	SubmissionDays      *int    `json:"submission_days,omitempty"`
	VotingDays          *int    `json:"voting_days,omitempty"`
	ThemeSubmissionDays *int    `json:"theme_submission_days,omitempty"`
	ThemeVotingDays     *int    `json:"theme_voting_days,omitempty"`
	ChannelID           *string `json:"channel_id,omitempty"`
	ReminderRoleID      *string `json:"reminder_role_id,omitempty"`
}

func (c SettingsChange) update() league.SettingsUpdate {
	return league.SettingsUpdate{
		SubmissionWindow:      days(c.SubmissionDays),
		VotingWindow:          days(c.VotingDays),
		ThemeSubmissionWindow: days(c.ThemeSubmissionDays),
		ThemeVotingWindow:     days(c.ThemeVotingDays),
		ChannelID:             c.ChannelID,
		ReminderRoleID:        c.ReminderRoleID,
	}
}

func days(n *int) *time.Duration {
	if n == nil {
		return nil
	}
	d := time.Duration(*n) * 24 * time.Hour
	return &d
}

// Result carries whatever the handled action produced; only the fields for
// the event's Kind are set.
type Result struct {
	Round       league.Round
	Entry       league.Entry
	Proposal    league.ThemeProposal
	Created     bool
	Status      league.Status
	Leaderboard []league.Participant
	Guild       league.Guild
}

// Engine is the part of league.Engine inbound actions reach.
type Engine interface {
	StartRound(ctx context.Context, guildID, theme string) (league.Round, error)
	Submit(ctx context.Context, req league.SubmitRequest) (league.Entry, bool, error)
	SubmitTheme(ctx context.Context, req league.ThemeRequest) (league.ThemeProposal, bool, error)
	ForceEndSubmission(ctx context.Context, guildID string) (league.Round, error)
	ForceEndVoting(ctx context.Context, guildID string) (league.Round, error)
	UpdateSettings(ctx context.Context, guildID string, update league.SettingsUpdate) (league.Guild, error)
	Status(ctx context.Context, guildID string) (league.Status, error)
	Leaderboard(ctx context.Context, guildID string, limit int) ([]league.Participant, error)
	RecordVote(ctx context.Context, vote league.VoteMarker) error
}

// Handle applies ev to the engine.
func Handle(ctx context.Context, engine Engine, ev Event) (Result, error) {
	var (
		res Result
		err error
	)
	switch ev.Kind {
	case KindStart:
		res.Round, err = engine.StartRound(ctx, ev.GuildID, ev.Theme)
	case KindSubmit:
		res.Entry, res.Created, err = engine.Submit(ctx, league.SubmitRequest{
			GuildID:     ev.GuildID,
			UserID:      ev.UserID,
			Content:     ev.Content,
			Description: ev.Description,
		})
	case KindSubmitTheme:
		res.Proposal, res.Created, err = engine.SubmitTheme(ctx, league.ThemeRequest{
			GuildID:     ev.GuildID,
			UserID:      ev.UserID,
			Theme:       ev.Theme,
			Description: ev.Description,
		})
	case KindEndSubmission:
		res.Round, err = engine.ForceEndSubmission(ctx, ev.GuildID)
	case KindEndVoting:
		res.Round, err = engine.ForceEndVoting(ctx, ev.GuildID)
	case KindSettings:
		var change SettingsChange
		if ev.Settings != nil {
			change = *ev.Settings
		}
		res.Guild, err = engine.UpdateSettings(ctx, ev.GuildID, change.update())
	case KindStatus:
		res.Status, err = engine.Status(ctx, ev.GuildID)
	case KindLeaderboard:
		res.Leaderboard, err = engine.Leaderboard(ctx, ev.GuildID, ev.Limit)
	case KindVote:
		err = engine.RecordVote(ctx, league.VoteMarker{
			GuildID:   ev.GuildID,
			UserID:    ev.UserID,
			MessageID: ev.MessageID,
			Marker:    ev.Marker,
		})
	default:
		err = fmt.Errorf("unknown inbound event kind %q: %w", ev.Kind, league.ErrValidation)
	}
	return res, err
}
