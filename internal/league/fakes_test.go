package league_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
	"github.com/eeSquared/musicleague-bot/internal/store"
)

var errGatewayDown = errors.New("gateway unavailable")

type postedNotice struct {
	GuildID string
	Channel string
	Ref     league.MessageRef
	Notice  league.Notice
}

// fakeGateway records every call and serves canned tallies.
type fakeGateway struct {
	mu          sync.Mutex
	nextID      int
	posts       []postedNotice
	markers     map[string]int
	pinned      map[string]bool
	tallies     map[string][]int
	userMarkers map[string][]int
	removed     []string
	roles       map[string]league.Role
	failPosts   int
	failTallies bool
	onPost      func(n league.Notice)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		markers:     make(map[string]int),
		pinned:      make(map[string]bool),
		tallies:     make(map[string][]int),
		userMarkers: make(map[string][]int),
		roles:       make(map[string]league.Role),
	}
}

func (g *fakeGateway) Post(_ context.Context, guildID, channelHint string, n league.Notice) (league.MessageRef, error) {
	g.mu.Lock()
	if g.failPosts > 0 {
		g.failPosts--
		g.mu.Unlock()
		return league.MessageRef{}, errGatewayDown
	}
	g.nextID++
	ref := league.MessageRef{ChannelID: "general", MessageID: fmt.Sprintf("msg-%d", g.nextID)}
	if channelHint != "" {
		ref.ChannelID = channelHint
	}
	g.posts = append(g.posts, postedNotice{GuildID: guildID, Channel: ref.ChannelID, Ref: ref, Notice: n})
	hook := g.onPost
	g.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ref, nil
}

func (g *fakeGateway) AddMarkers(_ context.Context, ref league.MessageRef, count int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markers[ref.MessageID] = count
	return count, nil
}

func (g *fakeGateway) FetchTallies(_ context.Context, ref league.MessageRef, count int) ([]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTallies {
		return nil, errGatewayDown
	}
	out := make([]int, count)
	copy(out, g.tallies[ref.MessageID])
	return out, nil
}

func (g *fakeGateway) ResolveRole(_ context.Context, _ string, roleHint string) (league.Role, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	role, ok := g.roles[roleHint]
	return role, ok, nil
}

func (g *fakeGateway) ResolveChannel(_ context.Context, _ string, channelHint string) (string, error) {
	if channelHint != "" {
		return channelHint, nil
	}
	return "general", nil
}

func (g *fakeGateway) Pin(_ context.Context, ref league.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pinned[ref.MessageID] = true
	return nil
}

func (g *fakeGateway) Unpin(_ context.Context, ref league.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pinned, ref.MessageID)
	return nil
}

func (g *fakeGateway) UserMarkers(_ context.Context, ref league.MessageRef, userID string, count int) ([]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int
	for _, m := range g.userMarkers[ref.MessageID+"/"+userID] {
		if m < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGateway) RemoveMarker(_ context.Context, ref league.MessageRef, userID string, marker int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, fmt.Sprintf("%s/%s/%d", ref.MessageID, userID, marker))
	return nil
}

func (g *fakeGateway) setTallies(messageID string, votes ...int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tallies[messageID] = votes
}

func (g *fakeGateway) failNextPosts(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failPosts = n
}

// noticesOf returns the posted notices of the given kind, oldest first.
func (g *fakeGateway) noticesOf(kind league.NoticeKind) []postedNotice {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []postedNotice
	for _, p := range g.posts {
		if p.Notice.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type countingObserver struct {
	mu          sync.Mutex
	transitions map[string]int
	reminders   int
	duplicates  int
	gatewayErrs int
}

func (o *countingObserver) Transition(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.transitions == nil {
		o.transitions = make(map[string]int)
	}
	o.transitions[name]++
}

func (o *countingObserver) GatewayError(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gatewayErrs++
}

func (o *countingObserver) ReminderSent(league.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reminders++
}

func (o *countingObserver) SuspectedDuplicate(league.NoticeKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.duplicates++
}

// flakyStore fails UpdateRound calls while armed.
type flakyStore struct {
	*store.Memory
	mu    sync.Mutex
	armed bool
}

func (s *flakyStore) arm(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = on
}

func (s *flakyStore) UpdateRound(ctx context.Context, id uint, update func(tx league.RoundTx) error) (league.Round, error) {
	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed {
		return league.Round{}, errors.New("connection reset")
	}
	return s.Memory.UpdateRound(ctx, id, update)
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine   *league.Engine
	store    *store.Memory
	gateway  *fakeGateway
	clock    *clock
	observer *countingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemory(), nil)
}

func newHarnessWithStore(t *testing.T, s league.Store, mem *store.Memory) *harness {
	t.Helper()
	if mem == nil {
		mem, _ = s.(*store.Memory)
	}
	h := &harness{
		store:    mem,
		gateway:  newFakeGateway(),
		clock:    &clock{now: t0},
		observer: &countingObserver{},
	}
	h.engine = league.NewEngine(s, h.gateway, league.Options{
		Now:      h.clock.Now,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer: h.observer,
	})
	return h
}

func (h *harness) startRound(t *testing.T, guildID, theme string) league.Round {
	t.Helper()
	round, err := h.engine.StartRound(context.Background(), guildID, theme)
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	return round
}

func (h *harness) submit(t *testing.T, guildID, userID, content string) league.Entry {
	t.Helper()
	entry, _, err := h.engine.Submit(context.Background(), league.SubmitRequest{GuildID: guildID, UserID: userID, Content: content})
	if err != nil {
		t.Fatalf("submit for %s: %v", userID, err)
	}
	return entry
}

func (h *harness) advance(t *testing.T, guildID string, at time.Time) {
	t.Helper()
	h.clock.Set(at)
	if err := h.engine.AdvanceGuild(context.Background(), guildID); err != nil {
		t.Fatalf("advance guild at %s: %v", at, err)
	}
}

func (h *harness) round(t *testing.T, id uint) league.Round {
	t.Helper()
	round, err := h.store.Round(context.Background(), id)
	if err != nil {
		t.Fatalf("load round %d: %v", id, err)
	}
	return round
}
