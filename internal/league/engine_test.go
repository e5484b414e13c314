package league_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"
	"github.com/eeSquared/musicleague-bot/internal/store"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
)

const guildID = "guild-1"

func TestRoundLifecycleScoresVotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	round := h.startRound(t, guildID, "Covers")
	if round.Number != 1 || round.Phase != league.PhaseSubmission {
		t.Fatalf("unexpected new round %+v", round)
	}
	if round.Announcement.IsZero() {
		t.Fatalf("expected announcement to be recorded")
	}
	if !round.SubmissionEnd.Equal(t0.Add(72*time.Hour)) || !round.VotingEnd.Equal(t0.Add(144*time.Hour)) {
		t.Fatalf("unexpected deadlines %s / %s", round.SubmissionEnd, round.VotingEnd)
	}

	h.submit(t, guildID, "alice", "https://example.com/alice")
	h.submit(t, guildID, "bob", "https://example.com/bob")

	h.advance(t, guildID, round.SubmissionEnd)
	voting := h.gateway.noticesOf(league.NoticeVotingOpened)
	if len(voting) != 1 {
		t.Fatalf("expected one voting prompt, got %d", len(voting))
	}
	prompt := voting[0]
	if len(prompt.Notice.Entries) != 2 || prompt.Notice.VotesPerUser != 3 {
		t.Fatalf("unexpected voting prompt %+v", prompt.Notice)
	}
	if got := h.gateway.markers[prompt.Ref.MessageID]; got != 2 {
		t.Fatalf("expected 2 markers, got %d", got)
	}
	if !h.gateway.pinned[prompt.Ref.MessageID] {
		t.Fatalf("expected voting prompt to be pinned")
	}
	opened := h.round(t, round.ID)
	if opened.Phase != league.PhaseVoting || opened.VotingMessage != prompt.Ref || opened.EligibleEntries != 2 {
		t.Fatalf("unexpected round after voting opened %+v", opened)
	}

	h.gateway.setTallies(prompt.Ref.MessageID, 5, 2)
	h.advance(t, guildID, round.VotingEnd)

	completed := h.round(t, round.ID)
	if completed.Phase != league.PhaseCompleted {
		t.Fatalf("expected completed round, got %s", completed.Phase)
	}
	if completed.ThemePhase != league.ThemeProposing {
		t.Fatalf("expected theme proposals to open, got %s", completed.ThemePhase)
	}
	if want := round.VotingEnd.Add(48 * time.Hour); !completed.ThemeSubmissionEnd.Equal(want) {
		t.Fatalf("theme submission end = %s, want %s", completed.ThemeSubmissionEnd, want)
	}
	if completed.ResultsMessage.IsZero() || completed.ThemeSubmissionMessage.IsZero() {
		t.Fatalf("expected results and theme prompt ids, got %+v", completed)
	}
	if h.gateway.pinned[prompt.Ref.MessageID] {
		t.Fatalf("expected voting prompt to be unpinned")
	}

	board, err := h.engine.Leaderboard(ctx, guildID, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	want := []league.Participant{
		{GuildID: guildID, UserID: "alice", TotalScore: 5},
		{GuildID: guildID, UserID: "bob", TotalScore: 2},
	}
	if diff := cmp.Diff(want, board); diff != "" {
		t.Fatalf("unexpected leaderboard (-want +got):\n%s", diff)
	}

	results := h.gateway.noticesOf(league.NoticeResults)
	if len(results) != 1 {
		t.Fatalf("expected one results post, got %d", len(results))
	}
	ranked := results[0].Notice.Results
	if len(ranked) != 2 || ranked[0].Item.UserID != "alice" || ranked[0].Score != 5 || ranked[1].Score != 2 {
		t.Fatalf("unexpected results %+v", ranked)
	}
	if len(results[0].Notice.Standings) != 2 {
		t.Fatalf("expected standings in results post")
	}
	if n := len(h.gateway.noticesOf(league.NoticeThemeSubmissionOpened)); n != 1 {
		t.Fatalf("expected theme submission prompt, got %d", n)
	}

	if _, err := h.engine.Status(ctx, guildID); !errors.Is(err, league.ErrNotFound) {
		t.Fatalf("expected no active round after completion, got %v", err)
	}
	next := h.startRound(t, guildID, "Road trip")
	if next.Number != 2 {
		t.Fatalf("expected round 2, got %d", next.Number)
	}
}

func TestOpenVotingRunsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.clock.Set(round.SubmissionEnd)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.engine.AdvanceGuild(ctx, guildID); err != nil {
				t.Errorf("advance: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := h.engine.OpenVoting(ctx, round.ID); err != nil {
		t.Fatalf("open voting again: %v", err)
	}
	if n := len(h.gateway.noticesOf(league.NoticeVotingOpened)); n != 1 {
		t.Fatalf("expected exactly one voting prompt, got %d", n)
	}
	if n := h.observer.transitions["open_voting"]; n != 1 {
		t.Fatalf("expected one open_voting transition, got %d", n)
	}
}

func TestCompleteRoundNotDueIsNoop(t *testing.T) {
	h := newHarness(t)
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.advance(t, guildID, round.SubmissionEnd)

	if err := h.engine.CompleteRound(context.Background(), round.ID); err != nil {
		t.Fatalf("complete round: %v", err)
	}
	if got := h.round(t, round.ID).Phase; got != league.PhaseVoting {
		t.Fatalf("expected round to stay in voting, got %s", got)
	}
}

func TestForceEndSubmissionRestartsVotingWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")

	forcedAt := t0.Add(24 * time.Hour)
	h.clock.Set(forcedAt)
	round, err := h.engine.ForceEndSubmission(ctx, guildID)
	if err != nil {
		t.Fatalf("force end submission: %v", err)
	}
	if !round.SubmissionEnd.Equal(forcedAt) {
		t.Fatalf("submission end = %s, want %s", round.SubmissionEnd, forcedAt)
	}
	if want := t0.Add(96 * time.Hour); !round.VotingEnd.Equal(want) {
		t.Fatalf("voting end = %s, want %s", round.VotingEnd, want)
	}

	if _, err := h.engine.ForceEndSubmission(ctx, guildID); !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected second force end to be rejected, got %v", err)
	}

	h.advance(t, guildID, forcedAt)
	voting := h.gateway.noticesOf(league.NoticeVotingOpened)
	if len(voting) != 1 || !voting[0].Notice.Deadline.Equal(t0.Add(96*time.Hour)) {
		t.Fatalf("unexpected voting prompt %+v", voting)
	}

	endAt := forcedAt.Add(6 * time.Hour)
	h.clock.Set(endAt)
	round, err = h.engine.ForceEndVoting(ctx, guildID)
	if err != nil {
		t.Fatalf("force end voting: %v", err)
	}
	if !round.VotingEnd.Equal(endAt) {
		t.Fatalf("voting end = %s, want %s", round.VotingEnd, endAt)
	}
	h.advance(t, guildID, endAt)
	if got := h.round(t, round.ID).Phase; got != league.PhaseCompleted {
		t.Fatalf("expected completed round, got %s", got)
	}
}

func TestForceEndVotingDuringSubmissionIsRejected(t *testing.T) {
	h := newHarness(t)
	h.startRound(t, guildID, "Covers")

	_, err := h.engine.ForceEndVoting(context.Background(), guildID)
	rejection, ok := league.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !errors.Is(err, league.ErrValidation) || !strings.Contains(rejection.Next, "/end_submission") {
		t.Fatalf("unexpected rejection %+v", rejection)
	}
}

func TestForceEndWithoutRoundIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.ForceEndSubmission(context.Background(), guildID)
	if !errors.Is(err, league.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemindersFireOncePerPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	role := "role-1"
	if _, err := h.engine.UpdateSettings(ctx, guildID, league.SettingsUpdate{ReminderRoleID: &role}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	h.gateway.roles[role] = league.Role{ID: role, Name: "league"}

	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")

	h.advance(t, guildID, round.SubmissionEnd.Add(-24*time.Hour))
	h.advance(t, guildID, round.SubmissionEnd.Add(-24*time.Hour+15*time.Minute))
	reminders := h.gateway.noticesOf(league.NoticeReminder)
	if len(reminders) != 1 {
		t.Fatalf("expected one submission reminder, got %d", len(reminders))
	}
	if reminders[0].Notice.Phase != league.PhaseSubmission || reminders[0].Notice.Role.ID != role {
		t.Fatalf("unexpected reminder %+v", reminders[0].Notice)
	}
	if !h.round(t, round.ID).SubmissionReminderSent {
		t.Fatalf("expected submission reminder flag")
	}

	h.advance(t, guildID, round.SubmissionEnd)
	h.advance(t, guildID, round.VotingEnd.Add(-24*time.Hour-20*time.Minute))
	h.advance(t, guildID, round.VotingEnd.Add(-24*time.Hour))
	reminders = h.gateway.noticesOf(league.NoticeReminder)
	if len(reminders) != 2 || reminders[1].Notice.Phase != league.PhaseVoting {
		t.Fatalf("expected one voting reminder, got %+v", reminders)
	}
	if h.observer.reminders != 2 {
		t.Fatalf("expected 2 reminder observations, got %d", h.observer.reminders)
	}
}

func TestMissedReminderWindowIsNotRetried(t *testing.T) {
	h := newHarness(t)
	round := h.startRound(t, guildID, "Covers")

	h.advance(t, guildID, round.SubmissionEnd.Add(-23*time.Hour))
	if n := len(h.gateway.noticesOf(league.NoticeReminder)); n != 0 {
		t.Fatalf("expected no reminder outside the window, got %d", n)
	}
}

func TestFailedReminderPostIsRetriedInWindow(t *testing.T) {
	h := newHarness(t)
	round := h.startRound(t, guildID, "Covers")

	h.gateway.failNextPosts(1)
	h.advance(t, guildID, round.SubmissionEnd.Add(-24*time.Hour-25*time.Minute))
	if h.round(t, round.ID).SubmissionReminderSent {
		t.Fatalf("flag must not be set when the post failed")
	}
	h.advance(t, guildID, round.SubmissionEnd.Add(-24*time.Hour))
	if n := len(h.gateway.noticesOf(league.NoticeReminder)); n != 1 {
		t.Fatalf("expected reminder on retry, got %d", n)
	}
}

func TestEmptyRoundCompletesWithoutVoting(t *testing.T) {
	h := newHarness(t)
	round := h.startRound(t, guildID, "Covers")

	h.advance(t, guildID, round.SubmissionEnd)

	closed := h.round(t, round.ID)
	if closed.Phase != league.PhaseCompleted || closed.ThemePhase != league.ThemeNone {
		t.Fatalf("unexpected empty round %+v", closed)
	}
	if n := len(h.gateway.noticesOf(league.NoticeVotingOpened)); n != 0 {
		t.Fatalf("expected no voting prompt, got %d", n)
	}
	if n := len(h.gateway.noticesOf(league.NoticeNoSubmissions)); n != 1 {
		t.Fatalf("expected no-submissions notice, got %d", n)
	}
	next := h.startRound(t, guildID, "Second chance")
	if next.Number != 2 {
		t.Fatalf("expected round 2, got %d", next.Number)
	}
}

func TestEntriesBeyondMarkerBudgetAreExcluded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	faker := gofakeit.New(42)
	round := h.startRound(t, guildID, "Covers")

	users := make([]string, 60)
	for i := range users {
		users[i] = faker.Username() + "-" + faker.DigitN(6)
		h.clock.Set(t0.Add(time.Duration(i) * time.Minute))
		h.submit(t, guildID, users[i], faker.URL())
	}

	h.advance(t, guildID, round.SubmissionEnd)
	prompt := h.gateway.noticesOf(league.NoticeVotingOpened)[0]
	if len(prompt.Notice.Entries) != 50 || len(prompt.Notice.Excluded) != 10 {
		t.Fatalf("expected 50 eligible and 10 excluded, got %d/%d", len(prompt.Notice.Entries), len(prompt.Notice.Excluded))
	}
	if prompt.Notice.Excluded[0].UserID != users[50] {
		t.Fatalf("expected the latest submissions to be excluded")
	}
	if got := h.gateway.markers[prompt.Ref.MessageID]; got != 50 {
		t.Fatalf("expected 50 markers, got %d", got)
	}

	votes := make([]int, 50)
	votes[49] = 4
	h.gateway.setTallies(prompt.Ref.MessageID, votes...)
	h.advance(t, guildID, round.VotingEnd)

	entries, err := h.store.Entries(ctx, round.ID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	for i, entry := range entries {
		if excluded := i >= 50; entry.Excluded != excluded {
			t.Fatalf("entry %d excluded = %v", i, entry.Excluded)
		}
	}
	if entries[49].Votes != 4 {
		t.Fatalf("expected last eligible entry to score 4, got %d", entries[49].Votes)
	}
	results, err := h.engine.Results(ctx, round.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if results[0].Item.UserID != users[49] || len(results) != 60 {
		t.Fatalf("unexpected results head %+v", results[0])
	}
}

func TestVoteCapRemovesExtraMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	for _, user := range []string{"a", "b", "c", "d", "e"} {
		h.submit(t, guildID, user, "song by "+user)
	}
	h.advance(t, guildID, round.SubmissionEnd)
	msgID := h.round(t, round.ID).VotingMessage.MessageID

	h.gateway.userMarkers[msgID+"/alice"] = []int{0, 1, 2}
	if err := h.engine.RecordVote(ctx, league.VoteMarker{GuildID: guildID, UserID: "alice", MessageID: msgID, Marker: 2}); err != nil {
		t.Fatalf("third vote should be accepted: %v", err)
	}

	h.gateway.userMarkers[msgID+"/alice"] = []int{0, 1, 2, 4}
	err := h.engine.RecordVote(ctx, league.VoteMarker{GuildID: guildID, UserID: "alice", MessageID: msgID, Marker: 4})
	if !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected fourth vote to be rejected, got %v", err)
	}
	if diff := cmp.Diff([]string{msgID + "/alice/4"}, h.gateway.removed); diff != "" {
		t.Fatalf("unexpected removed markers (-want +got):\n%s", diff)
	}

	if err := h.engine.RecordVote(ctx, league.VoteMarker{GuildID: guildID, UserID: "alice", MessageID: "other", Marker: 0}); err != nil {
		t.Fatalf("markers on other messages are ignored: %v", err)
	}
}

func TestThemeCycleChoosesEarliestOnTie(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.advance(t, guildID, round.SubmissionEnd)
	h.advance(t, guildID, round.VotingEnd)
	completed := h.round(t, round.ID)

	for _, p := range []struct{ user, theme string }{
		{"alice", "  Road   trip "},
		{"bob", "Rainy days"},
	} {
		if _, _, err := h.engine.SubmitTheme(ctx, league.ThemeRequest{GuildID: guildID, UserID: p.user, Theme: p.theme}); err != nil {
			t.Fatalf("submit theme for %s: %v", p.user, err)
		}
	}

	h.clock.Set(completed.ThemeSubmissionEnd)
	if _, _, err := h.engine.SubmitTheme(ctx, league.ThemeRequest{GuildID: guildID, UserID: "carol", Theme: "Late"}); !errors.Is(err, league.ErrNotFound) {
		t.Fatalf("expected late theme to be rejected, got %v", err)
	}
	if err := h.engine.AdvanceThemeCycle(ctx, round.ID); err != nil {
		t.Fatalf("open theme voting: %v", err)
	}
	prompt := h.gateway.noticesOf(league.NoticeThemeVotingOpened)
	if len(prompt) != 1 || len(prompt[0].Notice.Proposals) != 2 {
		t.Fatalf("unexpected theme voting prompt %+v", prompt)
	}
	if prompt[0].Notice.Proposals[0].Theme != "Road trip" {
		t.Fatalf("expected normalized theme, got %q", prompt[0].Notice.Proposals[0].Theme)
	}

	h.gateway.setTallies(prompt[0].Ref.MessageID, 2, 2)
	h.clock.Set(completed.ThemeVotingEnd)
	if err := h.engine.AdvanceThemeCycle(ctx, round.ID); err != nil {
		t.Fatalf("close theme voting: %v", err)
	}

	done := h.round(t, round.ID)
	if done.ThemePhase != league.ThemeDone || done.WinningTheme != "Road trip" {
		t.Fatalf("unexpected theme outcome %s / %q", done.ThemePhase, done.WinningTheme)
	}
	if n := len(h.gateway.noticesOf(league.NoticeThemeResult)); n != 1 {
		t.Fatalf("expected theme result post, got %d", n)
	}

	suggestion, ok, err := h.engine.SuggestedTheme(ctx, guildID)
	if err != nil || !ok || suggestion != "Road trip" {
		t.Fatalf("suggested theme = %q, %v, %v", suggestion, ok, err)
	}
	_, err = h.engine.StartRound(ctx, guildID, "   ")
	rejection, isRejection := league.AsRejection(err)
	if !isRejection || !strings.Contains(rejection.Next, "Road trip") {
		t.Fatalf("expected rejection suggesting the winning theme, got %v", err)
	}
}

func TestThemeCycleWithoutProposalsEnds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.advance(t, guildID, round.SubmissionEnd)
	h.advance(t, guildID, round.VotingEnd)

	h.clock.Set(h.round(t, round.ID).ThemeSubmissionEnd)
	if err := h.engine.AdvanceThemeCycle(ctx, round.ID); err != nil {
		t.Fatalf("advance theme cycle: %v", err)
	}
	if got := h.round(t, round.ID).ThemePhase; got != league.ThemeDone {
		t.Fatalf("expected theme cycle to end, got %s", got)
	}
	if _, ok, _ := h.engine.SuggestedTheme(ctx, guildID); ok {
		t.Fatalf("expected no suggestion without proposals")
	}
}

func TestThemeProposalsReachOlderRoundAfterEmptyRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.advance(t, guildID, first.SubmissionEnd)
	h.advance(t, guildID, first.VotingEnd)

	second := h.startRound(t, guildID, "Road trip")
	if _, err := h.engine.ForceEndSubmission(ctx, guildID); err != nil {
		t.Fatalf("force end submission: %v", err)
	}
	h.advance(t, guildID, first.VotingEnd.Add(time.Hour))
	if closed := h.round(t, second.ID); closed.Phase != league.PhaseCompleted || closed.ThemePhase != league.ThemeNone {
		t.Fatalf("expected empty second round to close, got %+v", closed)
	}

	proposal, created, err := h.engine.SubmitTheme(ctx, league.ThemeRequest{GuildID: guildID, UserID: "bob", Theme: "Rainy days"})
	if err != nil {
		t.Fatalf("submit theme: %v", err)
	}
	if !created || proposal.RoundID != first.ID {
		t.Fatalf("expected a new proposal on round %d, got %+v (created=%v)", first.ID, proposal, created)
	}

	h.clock.Set(h.round(t, first.ID).ThemeSubmissionEnd)
	if _, _, err := h.engine.SubmitTheme(ctx, league.ThemeRequest{GuildID: guildID, UserID: "carol", Theme: "Late"}); !errors.Is(err, league.ErrNotFound) {
		t.Fatalf("expected proposals to close with the window, got %v", err)
	}
}

func TestFailedVotingPostIsRetried(t *testing.T) {
	h := newHarness(t)
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")

	h.gateway.failNextPosts(1)
	h.clock.Set(round.SubmissionEnd)
	if err := h.engine.AdvanceGuild(context.Background(), guildID); err == nil {
		t.Fatalf("expected failed post to surface")
	}
	if got := h.round(t, round.ID); got.Phase != league.PhaseSubmission || !got.VotingMessage.IsZero() {
		t.Fatalf("round must be untouched after a failed post, got %+v", got)
	}

	h.advance(t, guildID, round.SubmissionEnd.Add(5*time.Minute))
	if got := h.round(t, round.ID).Phase; got != league.PhaseVoting {
		t.Fatalf("expected voting after retry, got %s", got)
	}
	if h.observer.duplicates != 0 {
		t.Fatalf("a recorded failure is not a suspected duplicate")
	}
}

func TestUnrecordedPostIsFlaggedAsDuplicate(t *testing.T) {
	flaky := &flakyStore{Memory: store.NewMemory()}
	h := newHarnessWithStore(t, flaky, flaky.Memory)
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")

	h.gateway.onPost = func(n league.Notice) {
		if n.Kind == league.NoticeVotingOpened {
			flaky.arm(true)
		}
	}
	h.clock.Set(round.SubmissionEnd)
	if err := h.engine.AdvanceGuild(context.Background(), guildID); err == nil {
		t.Fatalf("expected the store failure to surface")
	}
	flaky.arm(false)
	h.gateway.onPost = nil

	h.advance(t, guildID, round.SubmissionEnd.Add(5*time.Minute))
	if n := len(h.gateway.noticesOf(league.NoticeVotingOpened)); n != 2 {
		t.Fatalf("expected the prompt to be posted again, got %d", n)
	}
	if h.observer.duplicates != 1 {
		t.Fatalf("expected one suspected duplicate, got %d", h.observer.duplicates)
	}
	if got := h.round(t, round.ID).Phase; got != league.PhaseVoting {
		t.Fatalf("expected voting, got %s", got)
	}
}

func TestTallyFailureCountsZeroVotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")
	h.advance(t, guildID, round.SubmissionEnd)

	h.gateway.failTallies = true
	h.advance(t, guildID, round.VotingEnd)

	if got := h.round(t, round.ID).Phase; got != league.PhaseCompleted {
		t.Fatalf("expected completion despite tally failure, got %s", got)
	}
	board, err := h.engine.Leaderboard(ctx, guildID, 5)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 1 || board[0].TotalScore != 0 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
	if h.observer.gatewayErrs == 0 {
		t.Fatalf("expected gateway error to be observed")
	}
}

func TestSubmitRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "alice", Content: "song"}); !errors.Is(err, league.ErrNotFound) {
		t.Fatalf("expected not found without a round, got %v", err)
	}

	round := h.startRound(t, guildID, "Covers")
	first, created, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "alice", Content: "first"})
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}
	second, created, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "alice", Content: "second", Description: "better"})
	if err != nil || created {
		t.Fatalf("resubmit: created=%v err=%v", created, err)
	}
	if first.ID != second.ID || second.Content != "second" {
		t.Fatalf("resubmission must replace in place: %+v vs %+v", first, second)
	}

	if _, _, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "bob", Content: "   "}); !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected empty content to be rejected, got %v", err)
	}
	long := strings.Repeat("é", 201)
	if _, _, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "bob", Content: long}); !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected long content to be rejected, got %v", err)
	}

	h.clock.Set(round.SubmissionEnd)
	if _, _, err := h.engine.Submit(ctx, league.SubmitRequest{GuildID: guildID, UserID: "bob", Content: "late"}); !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected late submission to be rejected, got %v", err)
	}
}

func TestStartRoundRejectsSecondActiveRound(t *testing.T) {
	h := newHarness(t)
	h.startRound(t, guildID, "Covers")

	_, err := h.engine.StartRound(context.Background(), guildID, "Another")
	if !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected rejection, got %v", err)
	}
	h.startRound(t, "guild-2", "Independent")
}

func TestStatusStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	round := h.startRound(t, guildID, "Covers")
	h.submit(t, guildID, "alice", "song")

	status, err := h.engine.Status(ctx, guildID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != league.StageSubmission || status.Entries != 1 || !status.Deadline.Equal(round.SubmissionEnd) {
		t.Fatalf("unexpected status %+v", status)
	}

	h.clock.Set(round.SubmissionEnd)
	status, err = h.engine.Status(ctx, guildID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != league.StageVoting || !status.Deadline.Equal(round.VotingEnd) {
		t.Fatalf("unexpected status %+v", status)
	}

	h.clock.Set(round.VotingEnd)
	status, err = h.engine.Status(ctx, guildID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != league.StageTallying {
		t.Fatalf("expected tallying, got %s", status.Stage)
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	short := 12 * time.Hour
	if _, err := h.engine.UpdateSettings(ctx, guildID, league.SettingsUpdate{VotingWindow: &short}); !errors.Is(err, league.ErrValidation) {
		t.Fatalf("expected short window to be rejected, got %v", err)
	}

	week := 7 * 24 * time.Hour
	channel := "music"
	guild, err := h.engine.UpdateSettings(ctx, guildID, league.SettingsUpdate{SubmissionWindow: &week, ChannelID: &channel})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if guild.Settings.SubmissionWindow != week || guild.Settings.VotingWindow != 72*time.Hour || guild.Settings.ChannelID != "music" {
		t.Fatalf("unexpected settings %+v", guild.Settings)
	}

	round := h.startRound(t, guildID, "Covers")
	if !round.SubmissionEnd.Equal(t0.Add(week)) {
		t.Fatalf("new window not applied: %s", round.SubmissionEnd)
	}
	if got := h.gateway.noticesOf(league.NoticeRoundStarted)[0].Channel; got != "music" {
		t.Fatalf("expected announcement in configured channel, got %s", got)
	}
}
