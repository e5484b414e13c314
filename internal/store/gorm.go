package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/db"
	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm is the database-backed league.Store. UpdateRound holds a row lock on
// the round (SELECT ... FOR UPDATE on Postgres) for the whole transaction.
type Gorm struct {
	db       *gorm.DB
	postgres bool
}

func NewGorm(conn *gorm.DB) *Gorm {
	return &Gorm{db: conn, postgres: conn.Dialector.Name() == "postgres"}
}

func (s *Gorm) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.postgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *Gorm) EnsureGuild(ctx context.Context, guildID string, defaults league.Settings) (league.Guild, error) {
	record := db.Guild{GuildID: guildID}
	applyGuild(&record, league.Guild{ID: guildID, Settings: defaults})
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "guild_id"}}, DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return league.Guild{}, fmt.Errorf("ensure guild %s: %w", guildID, err)
	}
	var row db.Guild
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error; err != nil {
		return league.Guild{}, notFound(err, "guild %s", guildID)
	}
	return toGuild(row), nil
}

func (s *Gorm) Guilds(ctx context.Context) ([]league.Guild, error) {
	var rows []db.Guild
	if err := s.db.WithContext(ctx).Order("guild_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	guilds := make([]league.Guild, len(rows))
	for i, row := range rows {
		guilds[i] = toGuild(row)
	}
	return guilds, nil
}

func (s *Gorm) UpdateGuild(ctx context.Context, guildID string, update func(g *league.Guild) error) (league.Guild, error) {
	var result league.Guild
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row db.Guild
		if err := s.forUpdate(tx).Where("guild_id = ?", guildID).First(&row).Error; err != nil {
			return notFound(err, "guild %s", guildID)
		}
		g := toGuild(row)
		if err := update(&g); err != nil {
			return err
		}
		applyGuild(&row, g)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save guild %s: %w", guildID, err)
		}
		result = toGuild(row)
		return nil
	})
	return result, err
}

func (s *Gorm) EnsureParticipant(ctx context.Context, guildID, userID string) (league.Participant, error) {
	row, err := ensurePlayer(s.db.WithContext(ctx), guildID, userID)
	if err != nil {
		return league.Participant{}, err
	}
	return toParticipant(row), nil
}

func ensurePlayer(tx *gorm.DB, guildID, userID string) (db.Player, error) {
	record := db.Player{GuildID: guildID, UserID: userID}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&record).Error
	if err != nil {
		return db.Player{}, fmt.Errorf("ensure player %s/%s: %w", guildID, userID, err)
	}
	var row db.Player
	if err := tx.Where("guild_id = ? AND user_id = ?", guildID, userID).First(&row).Error; err != nil {
		return db.Player{}, notFound(err, "player %s/%s", guildID, userID)
	}
	return row, nil
}

func (s *Gorm) Leaderboard(ctx context.Context, guildID string, limit int) ([]league.Participant, error) {
	var rows []db.Player
	query := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("total_score DESC").Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("leaderboard %s: %w", guildID, err)
	}
	out := make([]league.Participant, len(rows))
	for i, row := range rows {
		out[i] = toParticipant(row)
	}
	return out, nil
}

func (s *Gorm) CreateRound(ctx context.Context, round league.Round) (league.Round, error) {
	var result league.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var guild db.Guild
		if err := s.forUpdate(tx).Where("guild_id = ?", round.GuildID).First(&guild).Error; err != nil {
			return notFound(err, "guild %s", round.GuildID)
		}
		var active int64
		if err := tx.Model(&db.Round{}).
			Where("guild_id = ? AND phase <> ?", round.GuildID, string(league.PhaseCompleted)).
			Count(&active).Error; err != nil {
			return fmt.Errorf("count active rounds: %w", err)
		}
		if active > 0 {
			return league.ErrActiveRound
		}
		var last int
		if err := tx.Model(&db.Round{}).
			Where("guild_id = ?", round.GuildID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&last).Error; err != nil {
			return fmt.Errorf("last round number: %w", err)
		}

		row := db.Round{GuildID: round.GuildID, Number: last + 1, CreatedAt: round.CreatedAt}
		applyRound(&row, round)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return league.ErrActiveRound
			}
			return fmt.Errorf("create round: %w", err)
		}
		if err := tx.Model(&guild).Update("active_round_id", row.ID).Error; err != nil {
			return fmt.Errorf("set active round: %w", err)
		}
		result = toRound(row)
		return nil
	})
	return result, err
}

func (s *Gorm) Round(ctx context.Context, id uint) (league.Round, error) {
	var row db.Round
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return league.Round{}, notFound(err, "round %d", id)
	}
	return toRound(row), nil
}

func (s *Gorm) latestRound(ctx context.Context, guildID, query string, args ...any) (league.Round, error) {
	var row db.Round
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Where(query, args...).
		Order("number DESC").
		First(&row).Error
	if err != nil {
		return league.Round{}, notFound(err, "round for guild %s", guildID)
	}
	return toRound(row), nil
}

func (s *Gorm) ActiveRound(ctx context.Context, guildID string) (league.Round, error) {
	return s.latestRound(ctx, guildID, "phase <> ?", string(league.PhaseCompleted))
}

func (s *Gorm) LatestCompletedRound(ctx context.Context, guildID string) (league.Round, error) {
	return s.latestRound(ctx, guildID, "phase = ?", string(league.PhaseCompleted))
}

func (s *Gorm) ThemeProposalRound(ctx context.Context, guildID string, now time.Time) (league.Round, error) {
	return s.latestRound(ctx, guildID, "phase = ? AND theme_phase = ? AND theme_submission_end > ?",
		string(league.PhaseCompleted), string(league.ThemeProposing), now.UTC())
}

func (s *Gorm) RoundByVotingMessage(ctx context.Context, guildID, messageID string) (league.Round, error) {
	if messageID == "" {
		return league.Round{}, fmt.Errorf("voting message: %w", league.ErrNotFound)
	}
	return s.latestRound(ctx, guildID, "voting_message_id = ?", messageID)
}

func (s *Gorm) Rounds(ctx context.Context, guildID string) ([]league.Round, error) {
	var rows []db.Round
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("number DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	return toRounds(rows), nil
}

func (s *Gorm) OpenThemeCycles(ctx context.Context) ([]league.Round, error) {
	var rows []db.Round
	err := s.db.WithContext(ctx).
		Where("phase = ? AND theme_phase IN ?", string(league.PhaseCompleted),
			[]string{string(league.ThemeProposing), string(league.ThemeVoting)}).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list theme cycles: %w", err)
	}
	return toRounds(rows), nil
}

func toRounds(rows []db.Round) []league.Round {
	rounds := make([]league.Round, len(rows))
	for i, row := range rows {
		rounds[i] = toRound(row)
	}
	return rounds
}

func (s *Gorm) Entries(ctx context.Context, roundID uint) ([]league.Entry, error) {
	return loadEntries(s.db.WithContext(ctx), roundID)
}

func (s *Gorm) Proposals(ctx context.Context, roundID uint) ([]league.ThemeProposal, error) {
	return loadProposals(s.db.WithContext(ctx), roundID)
}

func loadEntries(tx *gorm.DB, roundID uint) ([]league.Entry, error) {
	var rows []db.Submission
	if err := tx.Joins("Player").Where("submissions.round_id = ?", roundID).Order("submissions.id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load entries for round %d: %w", roundID, err)
	}
	entries := make([]league.Entry, len(rows))
	for i, row := range rows {
		entries[i] = toEntry(row)
	}
	return entries, nil
}

func loadProposals(tx *gorm.DB, roundID uint) ([]league.ThemeProposal, error) {
	var rows []db.ThemeSubmission
	if err := tx.Joins("Player").Where("theme_submissions.round_id = ?", roundID).Order("theme_submissions.id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load theme proposals for round %d: %w", roundID, err)
	}
	proposals := make([]league.ThemeProposal, len(rows))
	for i, row := range rows {
		proposals[i] = toProposal(row)
	}
	return proposals, nil
}

func (s *Gorm) UpdateRound(ctx context.Context, id uint, update func(tx league.RoundTx) error) (league.Round, error) {
	var result league.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row db.Round
		if err := s.forUpdate(tx).First(&row, id).Error; err != nil {
			return notFound(err, "round %d", id)
		}
		var guild db.Guild
		if err := tx.Where("guild_id = ?", row.GuildID).First(&guild).Error; err != nil {
			return notFound(err, "guild %s", row.GuildID)
		}

		rtx := &gormTx{tx: tx, round: toRound(row), guild: toGuild(guild)}
		if err := update(rtx); err != nil {
			return err
		}

		applyRound(&row, rtx.round)
		if err := tx.Omit(clause.Associations).Save(&row).Error; err != nil {
			return fmt.Errorf("save round %d: %w", id, err)
		}
		if rtx.round.Completed() && guild.ActiveRoundID != nil && *guild.ActiveRoundID == row.ID {
			if err := tx.Model(&guild).Update("active_round_id", nil).Error; err != nil {
				return fmt.Errorf("release active round: %w", err)
			}
		}
		result = toRound(row)
		return nil
	})
	return result, err
}

type gormTx struct {
	tx    *gorm.DB
	round league.Round
	guild league.Guild
}

func (t *gormTx) Round() *league.Round { return &t.round }

func (t *gormTx) Guild() league.Guild { return t.guild }

func (t *gormTx) Entries() ([]league.Entry, error) {
	return loadEntries(t.tx, t.round.ID)
}

func (t *gormTx) UpsertEntry(userID, content, description string, at time.Time) (league.Entry, bool, error) {
	player, err := ensurePlayer(t.tx, t.round.GuildID, userID)
	if err != nil {
		return league.Entry{}, false, err
	}
	var row db.Submission
	err = t.tx.Where("round_id = ? AND player_id = ?", t.round.ID, player.ID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = db.Submission{
			RoundID:     t.round.ID,
			PlayerID:    player.ID,
			Content:     content,
			Description: nullable(description),
			SubmittedAt: at,
		}
		if err := t.tx.Omit("Player").Create(&row).Error; err != nil {
			return league.Entry{}, false, fmt.Errorf("create entry: %w", err)
		}
		row.Player = player
		return toEntry(row), true, nil
	case err != nil:
		return league.Entry{}, false, fmt.Errorf("load entry: %w", err)
	}

	row.Content = content
	row.Description = nullable(description)
	row.SubmittedAt = at
	if err := t.tx.Model(&row).Select("content", "description", "submitted_at").Updates(&row).Error; err != nil {
		return league.Entry{}, false, fmt.Errorf("update entry %d: %w", row.ID, err)
	}
	row.Player = player
	return toEntry(row), false, nil
}

func (t *gormTx) SetEntryResult(entryID uint, votes int, excluded bool) error {
	res := t.tx.Model(&db.Submission{}).
		Where("id = ? AND round_id = ?", entryID, t.round.ID).
		Updates(map[string]any{"votes": votes, "excluded": excluded})
	if res.Error != nil {
		return fmt.Errorf("set entry %d result: %w", entryID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("entry %d: %w", entryID, league.ErrNotFound)
	}
	return nil
}

func (t *gormTx) AddScore(userID string, delta int) error {
	player, err := ensurePlayer(t.tx, t.round.GuildID, userID)
	if err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	err = t.tx.Model(&db.Player{}).
		Where("id = ?", player.ID).
		Update("total_score", gorm.Expr("total_score + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("add score for %s: %w", userID, err)
	}
	return nil
}

func (t *gormTx) Proposals() ([]league.ThemeProposal, error) {
	return loadProposals(t.tx, t.round.ID)
}

func (t *gormTx) UpsertProposal(userID, theme, description string, at time.Time) (league.ThemeProposal, bool, error) {
	player, err := ensurePlayer(t.tx, t.round.GuildID, userID)
	if err != nil {
		return league.ThemeProposal{}, false, err
	}
	var row db.ThemeSubmission
	err = t.tx.Where("round_id = ? AND player_id = ?", t.round.ID, player.ID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = db.ThemeSubmission{
			RoundID:     t.round.ID,
			PlayerID:    player.ID,
			Theme:       theme,
			Description: nullable(description),
			SubmittedAt: at,
		}
		if err := t.tx.Omit("Player").Create(&row).Error; err != nil {
			return league.ThemeProposal{}, false, fmt.Errorf("create theme proposal: %w", err)
		}
		row.Player = player
		return toProposal(row), true, nil
	case err != nil:
		return league.ThemeProposal{}, false, fmt.Errorf("load theme proposal: %w", err)
	}

	row.Theme = theme
	row.Description = nullable(description)
	row.SubmittedAt = at
	if err := t.tx.Model(&row).Select("theme", "description", "submitted_at").Updates(&row).Error; err != nil {
		return league.ThemeProposal{}, false, fmt.Errorf("update theme proposal %d: %w", row.ID, err)
	}
	row.Player = player
	return toProposal(row), false, nil
}

func (t *gormTx) SetProposalVotes(proposalID uint, votes int) error {
	res := t.tx.Model(&db.ThemeSubmission{}).
		Where("id = ? AND round_id = ?", proposalID, t.round.ID).
		Update("votes", votes)
	if res.Error != nil {
		return fmt.Errorf("set theme proposal %d votes: %w", proposalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("theme proposal %d: %w", proposalID, league.ErrNotFound)
	}
	return nil
}

func (t *gormTx) RecordEvent(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	roundID := t.round.ID
	event := db.RoundEvent{
		GuildID: t.round.GuildID,
		RoundID: &roundID,
		Type:    kind,
		Payload: datatypes.JSON(raw),
	}
	if err := t.tx.Create(&event).Error; err != nil {
		return fmt.Errorf("record %s event: %w", kind, err)
	}
	return nil
}

func (t *gormTx) EventCount(kind string) (int64, error) {
	var n int64
	err := t.tx.Model(&db.RoundEvent{}).Where("round_id = ? AND type = ?", t.round.ID, kind).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count %s events: %w", kind, err)
	}
	return n, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, league.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ league.Store = (*Gorm)(nil)
