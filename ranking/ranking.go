// Package ranking computes round and overall standings. Everything here is a
// pure function of the score maps handed in; there is no I/O dependency.
package ranking

import (
	"sort"

	"github.com/partyround/backbone/models"
)

// Entry is one scored participant.
type Entry struct {
	UserID string
	Score  int
}

// SortedEntries orders a score map by score descending. Ties are ordered by
// user id so repeated calls produce identical output.
func SortedEntries(scores map[string]int) []Entry {
	entries := make([]Entry, 0, len(scores))
	for userID, score := range scores {
		entries = append(entries, Entry{UserID: userID, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// CalculateRanks assigns standard competition ranks: tied scores share the
// lower ordinal, the next distinct score resumes at 1 + players strictly
// ahead. 100,90,90,80 ranks as 1,2,2,4.
func CalculateRanks(sorted []Entry) map[string]int {
	ranks := make(map[string]int, len(sorted))
	rank := 1
	for i, entry := range sorted {
		if i > 0 && entry.Score != sorted[i-1].Score {
			rank = i + 1
		}
		ranks[entry.UserID] = rank
	}
	return ranks
}

// Ranks is the common sort-then-rank path for one score map.
func Ranks(scores map[string]int) map[string]int {
	return CalculateRanks(SortedEntries(scores))
}

// BuildTopK returns the leaderboard head, at most k rows.
func BuildTopK(sorted []Entry, ranks map[string]int, nicknames map[string]string, k int) []models.RankingInfo {
	if k > len(sorted) {
		k = len(sorted)
	}
	top := make([]models.RankingInfo, 0, k)
	for _, entry := range sorted[:k] {
		top = append(top, models.RankingInfo{
			UserID:   entry.UserID,
			Nickname: nicknames[entry.UserID],
			Score:    entry.Score,
			Rank:     ranks[entry.UserID],
		})
	}
	return top
}

// FirstByRank returns the single first-place participant, empty when there
// are no ranked participants. Ties break on user id.
func FirstByRank(ranks map[string]int) string {
	return pickByRank(ranks, func(candidate, best int) bool { return candidate < best })
}

// LastByRank returns the single last-place participant.
func LastByRank(ranks map[string]int) string {
	return pickByRank(ranks, func(candidate, best int) bool { return candidate > best })
}

func pickByRank(ranks map[string]int, better func(candidate, best int) bool) string {
	bestID := ""
	bestRank := 0
	for userID, rank := range ranks {
		if bestID == "" || better(rank, bestRank) || (rank == bestRank && userID < bestID) {
			bestID = userID
			bestRank = rank
		}
	}
	return bestID
}

// CalculateFinalRanks produces the full end-of-game standing from the
// players' cumulative results.
func CalculateFinalRanks(results []models.FinalResult) []models.RankingInfo {
	sorted := append([]models.FinalResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	standings := make([]models.RankingInfo, 0, len(sorted))
	rank := 1
	for i, result := range sorted {
		if i > 0 && result.Score != sorted[i-1].Score {
			rank = i + 1
		}
		standings = append(standings, models.RankingInfo{
			UserID:   result.UserID,
			Nickname: result.Nickname,
			Score:    result.Score,
			Rank:     rank,
		})
	}
	return standings
}
