package game

import (
	"sort"
	"sync/atomic"
)

// LeaderboardEntry is a ranked, read-only projection of a participant.
type LeaderboardEntry struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Tokens   float64 `json:"tokens"`
	Level    int     `json:"level"`
	Color    string  `json:"color"`
	Rank     int     `json:"rank"`
}

// ParticipantSource supplies participants in join order.
type ParticipantSource interface {
	Snapshot() []Participant
}

// Compute ranks participants by tokens, highest first, and keeps the top n.
// Equal balances keep join order. Ranks are 1-based.
func Compute(src ParticipantSource, topN int) []LeaderboardEntry {
	ps := src.Snapshot()
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Tokens != ps[j].Tokens {
			return ps[i].Tokens > ps[j].Tokens
		}
		return ps[i].seq < ps[j].seq
	})

	if topN >= 0 && len(ps) > topN {
		ps = ps[:topN]
	}

	out := make([]LeaderboardEntry, len(ps))
	for i, p := range ps {
		out[i] = LeaderboardEntry{
			ID:       p.ID,
			Username: p.Username,
			Tokens:   p.Tokens,
			Level:    p.Level,
			Color:    p.Color,
			Rank:     i + 1,
		}
	}
	return out
}

// TopThree returns the podium slice of a computed leaderboard.
func TopThree(entries []LeaderboardEntry) []LeaderboardEntry {
	if len(entries) > 3 {
		return entries[:3]
	}
	return entries
}

// Ranking remembers the most recent leaderboard for readers that should not
// trigger a recompute (HTTP status polling, bootstrap payloads).
type Ranking struct {
	topN int
	last atomic.Pointer[[]LeaderboardEntry]
}

// NewRanking creates a ranking bounded to topN entries.
func NewRanking(topN int) *Ranking {
	if topN <= 0 {
		topN = 100
	}
	r := &Ranking{topN: topN}
	empty := []LeaderboardEntry{}
	r.last.Store(&empty)
	return r
}

// TopN returns the configured bound.
func (r *Ranking) TopN() int {
	return r.topN
}

// Recompute derives a fresh leaderboard from src and caches it.
func (r *Ranking) Recompute(src ParticipantSource) []LeaderboardEntry {
	entries := Compute(src, r.topN)
	r.last.Store(&entries)
	return entries
}

// Last returns the most recently computed leaderboard, truncated to n when
// n is positive and smaller than the cached view.
func (r *Ranking) Last(n int) []LeaderboardEntry {
	entries := *r.last.Load()
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	out := make([]LeaderboardEntry, len(entries))
	copy(out, entries)
	return out
}
