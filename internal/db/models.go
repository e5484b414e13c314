package db

import (
	"time"

	"gorm.io/datatypes"
)

// MessageRef is a posted chat message. Both columns are NULL until the
// message exists.
type MessageRef struct {
	ChannelID *string `gorm:"size:32"`
	MessageID *string `gorm:"size:32"`
}

type Guild struct {
	ID                           uint    `gorm:"primaryKey"`
	GuildID                      string  `gorm:"size:32;uniqueIndex;not null"`
	SubmissionWindowSeconds      int64   `gorm:"not null"`
	VotingWindowSeconds          int64   `gorm:"not null"`
	ThemeSubmissionWindowSeconds int64   `gorm:"not null"`
	ThemeVotingWindowSeconds     int64   `gorm:"not null"`
	ChannelID                    *string `gorm:"size:32"`
	ReminderRoleID               *string `gorm:"size:32"`
	ActiveRoundID                *uint
	CreatedAt                    time.Time `gorm:"not null"`
	UpdatedAt                    time.Time `gorm:"not null"`
	Players                      []Player  `gorm:"foreignKey:GuildID;references:GuildID"`
	Rounds                       []Round   `gorm:"foreignKey:GuildID;references:GuildID"`
}

type Player struct {
	ID         uint      `gorm:"primaryKey"`
	GuildID    string    `gorm:"size:32;not null;uniqueIndex:idx_players_guild_user"`
	UserID     string    `gorm:"size:32;not null;uniqueIndex:idx_players_guild_user"`
	TotalScore int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type Round struct {
	ID            uint      `gorm:"primaryKey"`
	GuildID       string    `gorm:"size:32;not null;index;uniqueIndex:idx_rounds_guild_number"`
	Number        int       `gorm:"not null;uniqueIndex:idx_rounds_guild_number"`
	Theme         string    `gorm:"size:100;not null"`
	Phase         string    `gorm:"size:16;not null;index"`
	ThemePhase    string    `gorm:"size:16;not null;default:'none';index"`
	SubmissionEnd time.Time `gorm:"not null"`
	VotingEnd     time.Time `gorm:"not null"`

	ThemeSubmissionEnd *time.Time
	ThemeVotingEnd     *time.Time

	SubmissionReminderSent bool    `gorm:"not null;default:false"`
	VotingReminderSent     bool    `gorm:"not null;default:false"`
	EligibleEntries        int     `gorm:"not null;default:0"`
	WinningTheme           *string `gorm:"size:100"`

	Announcement           MessageRef `gorm:"embedded;embeddedPrefix:announcement_"`
	VotingMessage          MessageRef `gorm:"embedded;embeddedPrefix:voting_"`
	ResultsMessage         MessageRef `gorm:"embedded;embeddedPrefix:results_"`
	ThemeSubmissionMessage MessageRef `gorm:"embedded;embeddedPrefix:theme_submission_"`
	ThemeVotingMessage     MessageRef `gorm:"embedded;embeddedPrefix:theme_voting_"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	Submissions      []Submission      `gorm:"constraint:OnDelete:CASCADE"`
	ThemeSubmissions []ThemeSubmission `gorm:"constraint:OnDelete:CASCADE"`
}

type Submission struct {
	ID          uint      `gorm:"primaryKey"`
	RoundID     uint      `gorm:"index;not null;uniqueIndex:idx_submissions_round_player"`
	PlayerID    uint      `gorm:"index;not null;uniqueIndex:idx_submissions_round_player"`
	Player      Player    `gorm:"constraint:OnDelete:CASCADE"`
	Content     string    `gorm:"size:200;not null"`
	Description *string   `gorm:"size:500"`
	Votes       int       `gorm:"not null;default:0"`
	Excluded    bool      `gorm:"not null;default:false"`
	SubmittedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ThemeSubmission struct {
	ID          uint      `gorm:"primaryKey"`
	RoundID     uint      `gorm:"index;not null;uniqueIndex:idx_theme_submissions_round_player"`
	PlayerID    uint      `gorm:"index;not null;uniqueIndex:idx_theme_submissions_round_player"`
	Player      Player    `gorm:"constraint:OnDelete:CASCADE"`
	Theme       string    `gorm:"size:100;not null"`
	Description *string   `gorm:"size:500"`
	Votes       int       `gorm:"not null;default:0"`
	SubmittedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// RoundEvent is the append-only audit log of round lifecycle changes.
type RoundEvent struct {
	ID        uint           `gorm:"primaryKey"`
	GuildID   string         `gorm:"size:32;index;not null"`
	RoundID   *uint          `gorm:"index"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
