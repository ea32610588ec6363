package cache

import (
	"math"
	"time"

	"artifactd/pkg/types"
)

// EntryStat is the read-only view of a memory-tier entry handed to
// eviction strategies.
type EntryStat struct {
	ID         string
	Variant    types.Variant
	Size       int64
	LoadedAt   time.Time
	LastAccess time.Time
	Uses       uint64
	TTL        time.Duration
}

func (e EntryStat) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.LoadedAt) > e.TTL
}

// Strategy picks the next eviction candidate. TTL-expired entries are an
// unconditional first choice for every strategy; beyond that each strategy
// ranks survivors by its own notion of value.
type Strategy interface {
	Name() string
	Candidate(entries []EntryStat, snap types.MemorySnapshot, now time.Time) (id string, ok bool)
}

// NewStrategy maps a config name to a strategy, defaulting to LRU.
func NewStrategy(name string) Strategy {
	if name == "adaptive" {
		return &PressureAdaptive{}
	}
	return &LRU{}
}

func expiredCandidate(entries []EntryStat, now time.Time) (string, bool) {
	for _, e := range entries {
		if e.expired(now) {
			return e.ID, true
		}
	}
	return "", false
}

// LRU evicts the entry least recently accessed.
type LRU struct{}

func (*LRU) Name() string { return "lru" }

func (*LRU) Candidate(entries []EntryStat, _ types.MemorySnapshot, now time.Time) (string, bool) {
	if id, ok := expiredCandidate(entries, now); ok {
		return id, true
	}
	var best *EntryStat
	for i := range entries {
		e := &entries[i]
		if best == nil || e.LastAccess.Before(best.LastAccess) {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// PressureAdaptive ranks entries by predicted near-term reuse: historical
// access frequency decayed by recency. Under hard pressure the lowest-value
// entry goes first; ties break by lowest usage count, then oldest load.
// Outside hard pressure it degrades to recency so proactive eviction under
// soft pressure still frees something sensible.
type PressureAdaptive struct {
	// Halflife of the frequency decay; defaults to 10 minutes.
	Halflife time.Duration
}

func (*PressureAdaptive) Name() string { return "adaptive" }

func (s *PressureAdaptive) Candidate(entries []EntryStat, snap types.MemorySnapshot, now time.Time) (string, bool) {
	if id, ok := expiredCandidate(entries, now); ok {
		return id, true
	}
	if len(entries) == 0 {
		return "", false
	}
	if snap.Level != types.PressureHard {
		return (&LRU{}).Candidate(entries, snap, now)
	}
	halflife := s.Halflife
	if halflife <= 0 {
		halflife = 10 * time.Minute
	}
	best := -1
	bestScore := math.Inf(1)
	for i := range entries {
		e := &entries[i]
		score := s.reuseScore(e, now, halflife)
		if best < 0 || score < bestScore ||
			(score == bestScore && lessValuable(e, &entries[best])) {
			best = i
			bestScore = score
		}
	}
	return entries[best].ID, true
}

// reuseScore approximates the probability of near-term reuse: usage count
// halved for every halflife elapsed since the last access.
func (s *PressureAdaptive) reuseScore(e *EntryStat, now time.Time, halflife time.Duration) float64 {
	age := now.Sub(e.LastAccess)
	if age < 0 {
		age = 0
	}
	return float64(e.Uses) * math.Exp2(-age.Seconds()/halflife.Seconds())
}

func lessValuable(a, b *EntryStat) bool {
	if a.Uses != b.Uses {
		return a.Uses < b.Uses
	}
	return a.LoadedAt.Before(b.LoadedAt)
}
