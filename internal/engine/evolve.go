package engine

import (
	"math"

	"github.com/novamind/nova/internal/store"
)

// EmotionPulse is one cycle's affect audit record: the store-wide mood
// averages plus which records were reinforced.
type EmotionPulse struct {
	TS         string   `json:"ts"`
	Version    string   `json:"version"`
	AvgValence float64  `json:"avg_valence"`
	AvgArousal float64  `json:"avg_arousal"`
	Recalled   []string `json:"recalled"`
}

// Evolve applies bounded reinforcement to every record whose id was
// recalled this cycle: score up, penalty decayed, health promoted once the
// penalty clears, and affect relaxed toward baseline. Extreme mood states
// regress toward neutral so neither scores nor affect can run away.
// Records not recalled are untouched.
func Evolve(st *store.State, recalledIDs []string, version string) (int, EmotionPulse) {
	idSet := make(map[string]bool, len(recalledIDs))
	for _, id := range recalledIDs {
		idSet[id] = true
	}

	changed := 0
	for i := range st.Records {
		r := &st.Records[i]
		if !idSet[r.ID] {
			continue
		}
		r.Score += 0.1
		if r.Penalty > 0 {
			r.Penalty = math.Max(0.0, round3(r.Penalty-0.02))
		}
		if (r.Health == store.HealthHealed || r.Health == store.HealthAnomalous) && r.Penalty == 0 {
			r.Health = store.HealthOK
		}
		if math.Abs(r.Affect.Valence) > 0.8 {
			r.Affect.Valence = round3(r.Affect.Valence * 0.95)
		}
		r.Affect.Arousal = round3(r.Affect.Arousal + (0.55-r.Affect.Arousal)*0.05)
		r.LastSeen = store.Now()
		changed++
	}

	var sumV, sumA float64
	for _, r := range st.Records {
		sumV += r.Affect.Valence
		sumA += r.Affect.Arousal
	}
	pulse := EmotionPulse{
		TS:       store.Now(),
		Version:  version,
		Recalled: recalledIDs,
	}
	if n := len(st.Records); n > 0 {
		pulse.AvgValence = round3(sumV / float64(n))
		pulse.AvgArousal = round3(sumA / float64(n))
	}
	return changed, pulse
}
