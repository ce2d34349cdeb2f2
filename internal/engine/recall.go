package engine

import (
	"sort"

	"github.com/novamind/nova/internal/store"
)

// Recall ranks records by effective priority and returns the top limit
// (minimum 1). Read-only: the caller records the audit event.
//
// The effective score blends base score, penalty, health, the record's own
// affect, and alignment with the engine's recent mood. The constants are
// preserved from the original tuning; there is no ground truth for
// "correct" ranking to re-derive them against.
func Recall(records []store.Record, recent *store.RecentAffect, limit int) []store.Record {
	if len(records) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}

	recentValence := 0.0
	if recent != nil {
		recentValence = recent.Valence
	}

	ranked := append([]store.Record(nil), records...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ei := effectiveScore(ranked[i], recentValence)
		ej := effectiveScore(ranked[j], recentValence)
		if ei != ej {
			return ei > ej
		}
		// Tie-break on more recent last_seen; canonical timestamps sort
		// lexically.
		return ranked[i].LastSeen > ranked[j].LastSeen
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	return ranked[:limit]
}

func effectiveScore(r store.Record, recentValence float64) float64 {
	healthBonus := 0.0
	switch r.Health {
	case store.HealthOK:
		healthBonus = 0.02
	case store.HealthAnomalous:
		healthBonus = -0.05
	}

	valenceBonus := 0.03 * r.Affect.Valence
	// Peaks at arousal ≈ 0.55: neither flat nor frantic memories rank best.
	arousalBonus := 0.04 * (1 - 2*abs(0.55-clip(r.Affect.Arousal, 0.0, 1.0)))
	alignBonus := 0.02 * (r.Affect.Valence * recentValence)

	return r.Score - r.Penalty + healthBonus + valenceBonus + arousalBonus + alignBonus
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RecalledIDs projects a recalled set down to its ids.
func RecalledIDs(records []store.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
