package league

import "sort"

// Ranked is one row of a ranking: the item, its position in the input
// (submission order) and its score.
type Ranked[T any] struct {
	Item  T   `json:"item"`
	Index int `json:"index"`
	Score int `json:"score"`
}

// Rank orders items by votes, highest first. Ties keep submission order.
func Rank[T any](items []T, votes func(T) int) []Ranked[T] {
	ranked := make([]Ranked[T], len(items))
	for i, item := range items {
		ranked[i] = Ranked[T]{Item: item, Index: i, Score: votes(item)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func entryVotes(e Entry) int { return e.Votes }

func proposalVotes(p ThemeProposal) int { return p.Votes }

// RankEntries ranks a round's entries, given in submission order.
func RankEntries(entries []Entry) []Ranked[Entry] {
	return Rank(entries, entryVotes)
}

// ScoreDeltas turns ranked entries into per-participant score increments.
// Votes become points one for one; placement carries no bonus.
func ScoreDeltas(results []Ranked[Entry]) map[string]int {
	deltas := make(map[string]int, len(results))
	for _, result := range results {
		deltas[result.Item.UserID] += result.Score
	}
	return deltas
}

// WinningTheme picks the proposal with the most votes. The first submitted
// proposal wins a tie.
func WinningTheme(proposals []ThemeProposal) (Ranked[ThemeProposal], bool) {
	if len(proposals) == 0 {
		return Ranked[ThemeProposal]{}, false
	}
	return Rank(proposals, proposalVotes)[0], true
}
