package league

import "time"

type Phase string

const (
	PhaseSubmission Phase = "submission"
	PhaseVoting     Phase = "voting"
	PhaseCompleted  Phase = "completed"
)

// ThemePhase tracks the optional post-round theme sub-cycle of a completed
// round. It is orthogonal to Phase.
type ThemePhase string

const (
	ThemeNone      ThemePhase = "none"
	ThemeProposing ThemePhase = "proposal"
	ThemeVoting    ThemePhase = "voting"
	ThemeDone      ThemePhase = "done"
)

// MessageRef identifies a message posted through the gateway.
type MessageRef struct {
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func (m MessageRef) IsZero() bool {
	return m.MessageID == ""
}

// Settings are the per-guild knobs changed through /settings.
type Settings struct {
	SubmissionWindow      time.Duration
	VotingWindow          time.Duration
	ThemeSubmissionWindow time.Duration
	ThemeVotingWindow     time.Duration
	ChannelID             string
	ReminderRoleID        string
}

type Guild struct {
	ID            string
	Settings      Settings
	ActiveRoundID uint
}

type Participant struct {
	GuildID    string `json:"guild_id"`
	UserID     string `json:"user_id"`
	TotalScore int    `json:"total_score"`
}

type Round struct {
	ID         uint       `json:"id"`
	GuildID    string     `json:"guild_id"`
	Number     int        `json:"number"`
	Theme      string     `json:"theme"`
	Phase      Phase      `json:"phase"`
	ThemePhase ThemePhase `json:"theme_phase"`

	CreatedAt          time.Time `json:"created_at"`
	SubmissionEnd      time.Time `json:"submission_end"`
	VotingEnd          time.Time `json:"voting_end"`
	ThemeSubmissionEnd time.Time `json:"theme_submission_end,omitzero"`
	ThemeVotingEnd     time.Time `json:"theme_voting_end,omitzero"`

	SubmissionReminderSent bool `json:"submission_reminder_sent"`
	VotingReminderSent     bool `json:"voting_reminder_sent"`

	// EligibleEntries is how many entries, in submission order, received a
	// voting marker.
	EligibleEntries int    `json:"eligible_entries"`
	WinningTheme    string `json:"winning_theme,omitempty"`

	Announcement           MessageRef `json:"announcement"`
	VotingMessage          MessageRef `json:"voting_message"`
	ResultsMessage         MessageRef `json:"results_message"`
	ThemeSubmissionMessage MessageRef `json:"theme_submission_message"`
	ThemeVotingMessage     MessageRef `json:"theme_voting_message"`
}

func (r Round) Completed() bool {
	return r.Phase == PhaseCompleted
}

// Entry is a participant's submission for a round. Votes is only meaningful
// once the round is completed.
type Entry struct {
	ID          uint      `json:"id"`
	RoundID     uint      `json:"round_id"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	Description string    `json:"description,omitempty"`
	Votes       int       `json:"votes"`
	Excluded    bool      `json:"excluded,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ThemeProposal struct {
	ID          uint      `json:"id"`
	RoundID     uint      `json:"round_id"`
	UserID      string    `json:"user_id"`
	Theme       string    `json:"theme"`
	Description string    `json:"description,omitempty"`
	Votes       int       `json:"votes"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Role struct {
	ID   string
	Name string
}
