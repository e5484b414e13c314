package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
)

// Event is one row of a round's audit log.
type Event struct {
	GuildID   string
	RoundID   uint
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type memParticipant struct {
	league.Participant
	seq int
}

// Memory is an in-process league.Store. A single mutex guards all state, so
// every UpdateRound is serialised and applied all-or-nothing.
type Memory struct {
	mu             sync.Mutex
	now            func() time.Time
	nextRoundID    uint
	nextEntryID    uint
	nextProposalID uint
	nextSeq        int
	guilds         map[string]*league.Guild
	participants   map[string]map[string]*memParticipant
	rounds         map[uint]*league.Round
	entries        map[uint][]league.Entry
	proposals      map[uint][]league.ThemeProposal
	events         map[uint][]Event
}

func NewMemory() *Memory {
	return &Memory{
		now:            time.Now,
		nextRoundID:    1,
		nextEntryID:    1,
		nextProposalID: 1,
		guilds:         make(map[string]*league.Guild),
		participants:   make(map[string]map[string]*memParticipant),
		rounds:         make(map[uint]*league.Round),
		entries:        make(map[uint][]league.Entry),
		proposals:      make(map[uint][]league.ThemeProposal),
		events:         make(map[uint][]Event),
	}
}

func (m *Memory) EnsureGuild(_ context.Context, guildID string, defaults league.Settings) (league.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		g = &league.Guild{ID: guildID, Settings: defaults}
		m.guilds[guildID] = g
	}
	return *g, nil
}

func (m *Memory) Guilds(context.Context) ([]league.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guilds := make([]league.Guild, 0, len(m.guilds))
	for _, g := range m.guilds {
		guilds = append(guilds, *g)
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i].ID < guilds[j].ID })
	return guilds, nil
}

func (m *Memory) UpdateGuild(_ context.Context, guildID string, update func(g *league.Guild) error) (league.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return league.Guild{}, fmt.Errorf("guild %s: %w", guildID, league.ErrNotFound)
	}
	next := *g
	if err := update(&next); err != nil {
		return league.Guild{}, err
	}
	next.ID = guildID
	*g = next
	return next, nil
}

func (m *Memory) EnsureParticipant(_ context.Context, guildID, userID string) (league.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participant(guildID, userID).Participant, nil
}

func (m *Memory) participant(guildID, userID string) *memParticipant {
	byUser, ok := m.participants[guildID]
	if !ok {
		byUser = make(map[string]*memParticipant)
		m.participants[guildID] = byUser
	}
	p, ok := byUser[userID]
	if !ok {
		m.nextSeq++
		p = &memParticipant{Participant: league.Participant{GuildID: guildID, UserID: userID}, seq: m.nextSeq}
		byUser[userID] = p
	}
	return p
}

func (m *Memory) Leaderboard(_ context.Context, guildID string, limit int) ([]league.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]*memParticipant, 0, len(m.participants[guildID]))
	for _, p := range m.participants[guildID] {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalScore != rows[j].TotalScore {
			return rows[i].TotalScore > rows[j].TotalScore
		}
		return rows[i].seq < rows[j].seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]league.Participant, len(rows))
	for i, p := range rows {
		out[i] = p.Participant
	}
	return out, nil
}

func (m *Memory) CreateRound(_ context.Context, round league.Round) (league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[round.GuildID]
	if !ok {
		return league.Round{}, fmt.Errorf("guild %s: %w", round.GuildID, league.ErrNotFound)
	}
	number := 0
	for _, r := range m.rounds {
		if r.GuildID != round.GuildID {
			continue
		}
		if !r.Completed() {
			return league.Round{}, league.ErrActiveRound
		}
		number = max(number, r.Number)
	}
	round.ID = m.nextRoundID
	m.nextRoundID++
	round.Number = number + 1
	if round.CreatedAt.IsZero() {
		round.CreatedAt = m.now().UTC()
	}
	stored := round
	m.rounds[round.ID] = &stored
	g.ActiveRoundID = round.ID
	return round, nil
}

func (m *Memory) Round(_ context.Context, id uint) (league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return league.Round{}, fmt.Errorf("round %d: %w", id, league.ErrNotFound)
	}
	return *r, nil
}

func (m *Memory) ActiveRound(_ context.Context, guildID string) (league.Round, error) {
	return m.findRound(guildID, func(r *league.Round) bool { return !r.Completed() })
}

func (m *Memory) LatestCompletedRound(_ context.Context, guildID string) (league.Round, error) {
	return m.findRound(guildID, func(r *league.Round) bool { return r.Completed() })
}

func (m *Memory) ThemeProposalRound(_ context.Context, guildID string, now time.Time) (league.Round, error) {
	return m.findRound(guildID, func(r *league.Round) bool {
		return r.Completed() && r.ThemePhase == league.ThemeProposing && now.Before(r.ThemeSubmissionEnd)
	})
}

func (m *Memory) RoundByVotingMessage(_ context.Context, guildID, messageID string) (league.Round, error) {
	if messageID == "" {
		return league.Round{}, fmt.Errorf("voting message: %w", league.ErrNotFound)
	}
	return m.findRound(guildID, func(r *league.Round) bool { return r.VotingMessage.MessageID == messageID })
}

// findRound returns the highest-numbered round of the guild matching keep.
func (m *Memory) findRound(guildID string, keep func(r *league.Round) bool) (league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *league.Round
	for _, r := range m.rounds {
		if r.GuildID != guildID || !keep(r) {
			continue
		}
		if found == nil || r.Number > found.Number {
			found = r
		}
	}
	if found == nil {
		return league.Round{}, fmt.Errorf("round for guild %s: %w", guildID, league.ErrNotFound)
	}
	return *found, nil
}

func (m *Memory) Rounds(_ context.Context, guildID string) ([]league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rounds []league.Round
	for _, r := range m.rounds {
		if r.GuildID == guildID {
			rounds = append(rounds, *r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Number > rounds[j].Number })
	return rounds, nil
}

func (m *Memory) OpenThemeCycles(context.Context) ([]league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rounds []league.Round
	for _, r := range m.rounds {
		if r.Completed() && (r.ThemePhase == league.ThemeProposing || r.ThemePhase == league.ThemeVoting) {
			rounds = append(rounds, *r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID < rounds[j].ID })
	return rounds, nil
}

func (m *Memory) Entries(_ context.Context, roundID uint) ([]league.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]league.Entry(nil), m.entries[roundID]...), nil
}

func (m *Memory) Proposals(_ context.Context, roundID uint) ([]league.ThemeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]league.ThemeProposal(nil), m.proposals[roundID]...), nil
}

// Events returns the audit log of a round, oldest first.
func (m *Memory) Events(roundID uint) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[roundID]...)
}

func (m *Memory) UpdateRound(_ context.Context, id uint, update func(tx league.RoundTx) error) (league.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rounds[id]
	if !ok {
		return league.Round{}, fmt.Errorf("round %d: %w", id, league.ErrNotFound)
	}
	tx := &memTx{
		store:     m,
		round:     *current,
		guild:     *m.guilds[current.GuildID],
		entries:   append([]league.Entry(nil), m.entries[id]...),
		proposals: append([]league.ThemeProposal(nil), m.proposals[id]...),
		scores:    make(map[string]int),
	}
	if err := update(tx); err != nil {
		return league.Round{}, err
	}

	round := tx.round
	round.ID, round.GuildID = current.ID, current.GuildID
	*current = round
	m.entries[id] = tx.entries
	m.proposals[id] = tx.proposals
	for _, userID := range tx.touched {
		m.participant(round.GuildID, userID)
	}
	for _, userID := range tx.scoreOrder {
		m.participant(round.GuildID, userID).TotalScore += tx.scores[userID]
	}
	m.events[id] = append(m.events[id], tx.events...)
	if g := m.guilds[round.GuildID]; round.Completed() && g.ActiveRoundID == id {
		g.ActiveRoundID = 0
	}
	return round, nil
}

type memTx struct {
	store      *Memory
	round      league.Round
	guild      league.Guild
	entries    []league.Entry
	proposals  []league.ThemeProposal
	scores     map[string]int
	scoreOrder []string
	touched    []string
	events     []Event
}

func (tx *memTx) Round() *league.Round { return &tx.round }

func (tx *memTx) Guild() league.Guild { return tx.guild }

func (tx *memTx) Entries() ([]league.Entry, error) {
	return append([]league.Entry(nil), tx.entries...), nil
}

func (tx *memTx) UpsertEntry(userID, content, description string, at time.Time) (league.Entry, bool, error) {
	tx.touched = append(tx.touched, userID)
	for i := range tx.entries {
		if tx.entries[i].UserID == userID {
			tx.entries[i].Content = content
			tx.entries[i].Description = description
			tx.entries[i].SubmittedAt = at
			return tx.entries[i], false, nil
		}
	}
	entry := league.Entry{
		ID:          tx.store.nextEntryID,
		RoundID:     tx.round.ID,
		UserID:      userID,
		Content:     content,
		Description: description,
		SubmittedAt: at,
	}
	tx.store.nextEntryID++
	tx.entries = append(tx.entries, entry)
	return entry, true, nil
}

func (tx *memTx) SetEntryResult(entryID uint, votes int, excluded bool) error {
	for i := range tx.entries {
		if tx.entries[i].ID == entryID {
			tx.entries[i].Votes = votes
			tx.entries[i].Excluded = excluded
			return nil
		}
	}
	return fmt.Errorf("entry %d: %w", entryID, league.ErrNotFound)
}

func (tx *memTx) AddScore(userID string, delta int) error {
	if _, ok := tx.scores[userID]; !ok {
		tx.scoreOrder = append(tx.scoreOrder, userID)
	}
	tx.scores[userID] += delta
	return nil
}

func (tx *memTx) Proposals() ([]league.ThemeProposal, error) {
	return append([]league.ThemeProposal(nil), tx.proposals...), nil
}

func (tx *memTx) UpsertProposal(userID, theme, description string, at time.Time) (league.ThemeProposal, bool, error) {
	tx.touched = append(tx.touched, userID)
	for i := range tx.proposals {
		if tx.proposals[i].UserID == userID {
			tx.proposals[i].Theme = theme
			tx.proposals[i].Description = description
			tx.proposals[i].SubmittedAt = at
			return tx.proposals[i], false, nil
		}
	}
	proposal := league.ThemeProposal{
		ID:          tx.store.nextProposalID,
		RoundID:     tx.round.ID,
		UserID:      userID,
		Theme:       theme,
		Description: description,
		SubmittedAt: at,
	}
	tx.store.nextProposalID++
	tx.proposals = append(tx.proposals, proposal)
	return proposal, true, nil
}

func (tx *memTx) SetProposalVotes(proposalID uint, votes int) error {
	for i := range tx.proposals {
		if tx.proposals[i].ID == proposalID {
			tx.proposals[i].Votes = votes
			return nil
		}
	}
	return fmt.Errorf("theme proposal %d: %w", proposalID, league.ErrNotFound)
}

func (tx *memTx) RecordEvent(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	tx.events = append(tx.events, Event{
		GuildID:   tx.round.GuildID,
		RoundID:   tx.round.ID,
		Type:      kind,
		Payload:   raw,
		CreatedAt: tx.store.now().UTC(),
	})
	return nil
}

func (tx *memTx) EventCount(kind string) (int64, error) {
	var n int64
	for _, ev := range tx.store.events[tx.round.ID] {
		if ev.Type == kind {
			n++
		}
	}
	for _, ev := range tx.events {
		if ev.Type == kind {
			n++
		}
	}
	return n, nil
}

var _ league.Store = (*Memory)(nil)
