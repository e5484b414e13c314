package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/eeSquared/musicleague-bot/internal/league"

// Observer receives lifecycle counters. internal/metrics provides the
// Prometheus implementation.
type Observer interface {
	Transition(name string)
	GatewayError(op string)
	ReminderSent(phase Phase)
	SuspectedDuplicate(kind NoticeKind)
}

type nopObserver struct{}

func (nopObserver) Transition(string)             {}
func (nopObserver) GatewayError(string)           {}
func (nopObserver) ReminderSent(Phase)            {}
func (nopObserver) SuspectedDuplicate(NoticeKind) {}

type Options struct {
	Defaults       Settings
	MarkerBudget   int
	VotesPerUser   int
	GatewayTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
	Observer       Observer
}

// DefaultSettings are the windows a guild starts with.
func DefaultSettings() Settings {
	return Settings{
		SubmissionWindow:      3 * 24 * time.Hour,
		VotingWindow:          3 * 24 * time.Hour,
		ThemeSubmissionWindow: 2 * 24 * time.Hour,
		ThemeVotingWindow:     2 * 24 * time.Hour,
	}
}

// Engine owns every mutation of round state. The scheduler and inbound
// events both go through it.
type Engine struct {
	store    Store
	gateway  Gateway
	opts     Options
	locks    *guildLocks
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

func NewEngine(store Store, gateway Gateway, opts Options) *Engine {
	if opts.Defaults == (Settings{}) {
		opts.Defaults = DefaultSettings()
	}
	if opts.MarkerBudget <= 0 {
		opts.MarkerBudget = 50
	}
	if opts.VotesPerUser <= 0 {
		opts.VotesPerUser = 3
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Engine{
		store:    store,
		gateway:  gateway,
		opts:     opts,
		locks:    newGuildLocks(),
		logger:   opts.Logger,
		observer: opts.Observer,
		tracer:   otel.Tracer(tracerName),
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

func (e *Engine) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.GatewayTimeout)
}

// StartRound opens a new round in the submission phase.
func (e *Engine) StartRound(ctx context.Context, guildID, theme string) (Round, error) {
	unlock := e.locks.lock(guildID)
	defer unlock()

	normalized, err := validateTheme(theme)
	if err != nil {
		if suggestion, ok, _ := e.SuggestedTheme(ctx, guildID); ok && normalizeText(theme) == "" {
			err = reject(ErrValidation, "a theme is required", fmt.Sprintf("the last theme vote picked %q", suggestion))
		}
		return Round{}, err
	}
	guild, err := e.store.EnsureGuild(ctx, guildID, e.opts.Defaults)
	if err != nil {
		return Round{}, err
	}

	theme = normalized
	now := e.now()
	submissionEnd := now.Add(guild.Settings.SubmissionWindow)
	round, err := e.store.CreateRound(ctx, Round{
		GuildID:       guildID,
		Theme:         theme,
		Phase:         PhaseSubmission,
		ThemePhase:    ThemeNone,
		CreatedAt:     now,
		SubmissionEnd: submissionEnd,
		VotingEnd:     submissionEnd.Add(guild.Settings.VotingWindow),
	})
	if errors.Is(err, ErrActiveRound) {
		return Round{}, reject(ErrValidation, "a round is already in progress", "check /status or end it with /end_submission and /end_voting")
	}
	if err != nil {
		return Round{}, err
	}
	e.logger.Info("round started", "guild_id", guildID, "round_id", round.ID, "number", round.Number, "theme", theme)

	ref, err := e.post(ctx, guild, Notice{Kind: NoticeRoundStarted, Round: round, Deadline: round.SubmissionEnd})
	if err != nil {
		e.logger.Warn("round announcement failed", "guild_id", guildID, "round_id", round.ID, "error", err)
		return round, nil
	}
	updated, err := e.store.UpdateRound(ctx, round.ID, func(tx RoundTx) error {
		tx.Round().Announcement = ref
		return tx.RecordEvent("round_started", map[string]any{"number": round.Number, "theme": theme})
	})
	if err != nil {
		e.logger.Error("record announcement failed", "guild_id", guildID, "round_id", round.ID, "error", err)
		return round, nil
	}
	return updated, nil
}

type SubmitRequest struct {
	GuildID     string
	UserID      string
	Content     string
	Description string
}

// Submit records or replaces the caller's entry for the active round. The
// bool reports whether the entry is new.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Entry, bool, error) {
	content, err := validateContent(req.Content)
	if err != nil {
		return Entry{}, false, err
	}
	description, err := validateDescription(req.Description)
	if err != nil {
		return Entry{}, false, err
	}
	round, err := e.activeRound(ctx, req.GuildID)
	if err != nil {
		return Entry{}, false, err
	}

	now := e.now()
	var (
		entry   Entry
		created bool
	)
	_, err = e.store.UpdateRound(ctx, round.ID, func(tx RoundTx) error {
		r := tx.Round()
		if r.Phase != PhaseSubmission || !now.Before(r.SubmissionEnd) {
			return reject(ErrValidation, "the submission period for this round has ended", "vote on the entries in the voting prompt")
		}
		var err error
		entry, created, err = tx.UpsertEntry(req.UserID, content, description, now)
		if err != nil {
			return err
		}
		return tx.RecordEvent("entry_submitted", map[string]any{"user_id": req.UserID, "entry_id": entry.ID, "created": created})
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, created, nil
}

type ThemeRequest struct {
	GuildID     string
	UserID      string
	Theme       string
	Description string
}

// SubmitTheme records or replaces the caller's proposal for the next theme.
func (e *Engine) SubmitTheme(ctx context.Context, req ThemeRequest) (ThemeProposal, bool, error) {
	theme, err := validateTheme(req.Theme)
	if err != nil {
		return ThemeProposal{}, false, err
	}
	description, err := validateDescription(req.Description)
	if err != nil {
		return ThemeProposal{}, false, err
	}
	now := e.now()
	round, err := e.store.ThemeProposalRound(ctx, req.GuildID, now)
	if errors.Is(err, ErrNotFound) {
		return ThemeProposal{}, false, reject(ErrNotFound, "theme submissions are not open", "theme proposals open when a round completes")
	}
	if err != nil {
		return ThemeProposal{}, false, err
	}

	var (
		proposal ThemeProposal
		created  bool
	)
	_, err = e.store.UpdateRound(ctx, round.ID, func(tx RoundTx) error {
		r := tx.Round()
		if r.ThemePhase != ThemeProposing || !now.Before(r.ThemeSubmissionEnd) {
			return reject(ErrValidation, "theme submissions are not open", "theme proposals open when a round completes")
		}
		var err error
		proposal, created, err = tx.UpsertProposal(req.UserID, theme, description, now)
		if err != nil {
			return err
		}
		return tx.RecordEvent("theme_submitted", map[string]any{"user_id": req.UserID, "proposal_id": proposal.ID, "created": created})
	})
	if err != nil {
		return ThemeProposal{}, false, err
	}
	return proposal, created, nil
}

// ForceEndSubmission closes submissions now. Voting then lasts the guild's
// configured voting window from now, not until the original deadline.
func (e *Engine) ForceEndSubmission(ctx context.Context, guildID string) (Round, error) {
	round, err := e.activeRound(ctx, guildID)
	if err != nil {
		return Round{}, err
	}
	now := e.now()
	return e.store.UpdateRound(ctx, round.ID, func(tx RoundTx) error {
		r := tx.Round()
		if r.Phase != PhaseSubmission || !now.Before(r.SubmissionEnd) {
			return reject(ErrValidation, "the submission period has already ended", "use /end_voting to close voting")
		}
		r.SubmissionEnd = now
		r.VotingEnd = now.Add(tx.Guild().Settings.VotingWindow)
		return tx.RecordEvent("submission_forced_end", map[string]any{"voting_end": r.VotingEnd})
	})
}

// ForceEndVoting moves the voting deadline to now. Results are computed by
// the next scheduler sweep.
func (e *Engine) ForceEndVoting(ctx context.Context, guildID string) (Round, error) {
	round, err := e.activeRound(ctx, guildID)
	if err != nil {
		return Round{}, err
	}
	now := e.now()
	return e.store.UpdateRound(ctx, round.ID, func(tx RoundTx) error {
		r := tx.Round()
		switch {
		case r.Phase == PhaseSubmission && now.Before(r.SubmissionEnd):
			return reject(ErrValidation, "the submission period is still open", "use /end_submission first")
		case r.Phase == PhaseSubmission:
			return reject(ErrValidation, "voting has not opened yet", "wait for the voting prompt to be posted")
		case !now.Before(r.VotingEnd):
			return reject(ErrValidation, "the voting period has already ended", "results will be posted shortly")
		}
		r.VotingEnd = now
		return tx.RecordEvent("voting_forced_end", map[string]any{"voting_end": now})
	})
}

// SettingsUpdate carries the settings to change; nil fields are left alone.
// An empty ChannelID or ReminderRoleID clears the setting.
type SettingsUpdate struct {
	SubmissionWindow      *time.Duration
	VotingWindow          *time.Duration
	ThemeSubmissionWindow *time.Duration
	ThemeVotingWindow     *time.Duration
	ChannelID             *string
	ReminderRoleID        *string
}

func (e *Engine) UpdateSettings(ctx context.Context, guildID string, update SettingsUpdate) (Guild, error) {
	windows := []struct {
		label string
		value *time.Duration
	}{
		{"submission period", update.SubmissionWindow},
		{"voting period", update.VotingWindow},
		{"theme submission period", update.ThemeSubmissionWindow},
		{"theme voting period", update.ThemeVotingWindow},
	}
	for _, w := range windows {
		if w.value == nil {
			continue
		}
		if err := validateWindow(w.label, *w.value); err != nil {
			return Guild{}, err
		}
	}
	if _, err := e.store.EnsureGuild(ctx, guildID, e.opts.Defaults); err != nil {
		return Guild{}, err
	}
	guild, err := e.store.UpdateGuild(ctx, guildID, func(g *Guild) error {
		s := &g.Settings
		if update.SubmissionWindow != nil {
			s.SubmissionWindow = *update.SubmissionWindow
		}
		if update.VotingWindow != nil {
			s.VotingWindow = *update.VotingWindow
		}
		if update.ThemeSubmissionWindow != nil {
			s.ThemeSubmissionWindow = *update.ThemeSubmissionWindow
		}
		if update.ThemeVotingWindow != nil {
			s.ThemeVotingWindow = *update.ThemeVotingWindow
		}
		if update.ChannelID != nil {
			s.ChannelID = *update.ChannelID
		}
		if update.ReminderRoleID != nil {
			s.ReminderRoleID = *update.ReminderRoleID
		}
		return nil
	})
	if err != nil {
		return Guild{}, err
	}
	e.logger.Info("settings updated", "guild_id", guildID)
	return guild, nil
}

type VoteMarker struct {
	GuildID   string
	UserID    string
	MessageID string
	Marker    int
}

// RecordVote enforces the per-user vote cap when a marker is added to a
// round's voting prompt. Markers on other messages are ignored.
func (e *Engine) RecordVote(ctx context.Context, vote VoteMarker) error {
	round, err := e.store.RoundByVotingMessage(ctx, vote.GuildID, vote.MessageID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if round.Phase != PhaseVoting || vote.Marker < 0 || vote.Marker >= round.EligibleEntries {
		return nil
	}
	if _, err := e.store.EnsureParticipant(ctx, vote.GuildID, vote.UserID); err != nil {
		return err
	}

	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	markers, err := e.gateway.UserMarkers(gctx, round.VotingMessage, vote.UserID, round.EligibleEntries)
	if err != nil {
		e.observer.GatewayError("user_markers")
		return fmt.Errorf("count user markers: %w", err)
	}
	if len(markers) <= e.opts.VotesPerUser {
		return nil
	}
	if err := e.gateway.RemoveMarker(gctx, round.VotingMessage, vote.UserID, vote.Marker); err != nil {
		e.observer.GatewayError("remove_marker")
		return fmt.Errorf("remove marker: %w", err)
	}
	e.logger.Info("vote over cap removed", "guild_id", vote.GuildID, "round_id", round.ID, "user_id", vote.UserID, "marker", vote.Marker)
	return reject(ErrValidation, fmt.Sprintf("you can vote for up to %d entries", e.opts.VotesPerUser), "remove one of your votes before adding another")
}

func (e *Engine) activeRound(ctx context.Context, guildID string) (Round, error) {
	round, err := e.store.ActiveRound(ctx, guildID)
	if errors.Is(err, ErrNotFound) {
		return Round{}, reject(ErrNotFound, "there is no active round", "start one with /start")
	}
	return round, err
}

func (e *Engine) post(ctx context.Context, guild Guild, n Notice) (MessageRef, error) {
	gctx, cancel := e.gatewayCtx(ctx)
	defer cancel()
	ref, err := e.gateway.Post(gctx, guild.ID, guild.Settings.ChannelID, n)
	if err != nil {
		e.observer.GatewayError("post")
		return MessageRef{}, fmt.Errorf("post %s: %w", n.Kind, err)
	}
	return ref, nil
}
