package engine

import (
	"sort"
	"time"

	"github.com/novamind/nova/internal/config"
	"github.com/novamind/nova/internal/store"
)

// PruneStats summarizes one prune decision.
type PruneStats struct {
	Pruned int `json:"pruned"`
	Kept   int `json:"kept"`
}

// AutonomyPulse is one cycle's tempo-control audit record.
type AutonomyPulse struct {
	TS            string     `json:"ts"`
	Version       string     `json:"version"`
	LastMS        float64    `json:"last_ms"`
	SleepSec      float64    `json:"sleep_sec"`
	HadError      bool       `json:"had_error"`
	RecalledCount int        `json:"recalled_count"`
	Resilience    float64    `json:"resilience"`
	Prune         PruneStats `json:"prune"`
}

// Controller adjusts the loop's sleep interval from observed latency and
// error rate, and prunes the store when it outgrows its ceiling.
type Controller struct {
	Tuning  config.AutonomyConfig
	Version string

	// Now is swappable for tests.
	Now func() time.Time
}

// NewController returns a Controller with the given tuning.
func NewController(tuning config.AutonomyConfig, version string) *Controller {
	return &Controller{Tuning: tuning, Version: version, Now: time.Now}
}

// ClampSleep bounds a requested sleep interval to the allowed range.
func (c *Controller) ClampSleep(sec float64) float64 {
	return clip(sec, c.Tuning.SleepMinSec, c.Tuning.SleepMaxSec)
}

// Adjust updates the rolling windows and sleep interval in the store's
// signal state, prunes if warranted, and returns the next sleep interval.
// Every adjustment clamps to [min, max]; the rolling windows are retained
// for observability even though the base algorithm only needs the latest
// sample.
func (c *Controller) Adjust(st *store.State, lastMS float64, hadError bool, recalledCount int, resilience float64) (float64, AutonomyPulse) {
	t := c.Tuning
	auto := st.Signals.Autonomy
	if auto == nil {
		auto = &store.AutonomyState{SleepSec: t.SleepBaseSec}
		st.Signals.Autonomy = auto
	}

	auto.RollingMS = append(auto.RollingMS, lastMS)
	if len(auto.RollingMS) > 20 {
		auto.RollingMS = auto.RollingMS[len(auto.RollingMS)-20:]
	}
	errFlag := 0
	if hadError {
		errFlag = 1
	}
	auto.RollingErrors = append(auto.RollingErrors, errFlag)
	if len(auto.RollingErrors) > 50 {
		auto.RollingErrors = auto.RollingErrors[len(auto.RollingErrors)-50:]
	}

	sleepSec := auto.SleepSec
	if sleepSec == 0 {
		sleepSec = t.SleepBaseSec
	}

	if lastMS < 0.5*t.TargetCycleMS && resilience >= 0.9 && recalledCount >= 1 {
		sleepSec = round2(sleepSec - 0.5)
	}
	if lastMS > 1.5*t.TargetCycleMS || resilience < 0.6 {
		sleepSec = round2(sleepSec + 0.5)
	}
	if hadError {
		sleepSec = round2(sleepSec + t.ErrorBackoffSec)
	}
	sleepSec = clip(sleepSec, t.SleepMinSec, t.SleepMaxSec)
	auto.SleepSec = sleepSec

	prune := PruneStats{Kept: len(st.Records)}
	if len(st.Records) > t.PruneMaxItems && resilience >= 0.7 {
		prune = c.pruneRecords(st)
		auto.LastPrune = &store.PruneEvent{TS: store.Now(), Pruned: prune.Pruned, Kept: prune.Kept}
	}

	pulse := AutonomyPulse{
		TS:            store.Now(),
		Version:       c.Version,
		LastMS:        round2(lastMS),
		SleepSec:      sleepSec,
		HadError:      hadError,
		RecalledCount: recalledCount,
		Resilience:    resilience,
		Prune:         prune,
	}
	return sleepSec, pulse
}

// pruneRecords drops records that are both stale and weak. If that would
// take the store below the floor, the top records by score are kept
// instead, so the store never empties itself.
func (c *Controller) pruneRecords(st *store.State) PruneStats {
	t := c.Tuning
	cutoff := c.Now().UTC().AddDate(0, 0, -t.PruneStaleDays)

	survivors := make([]store.Record, 0, len(st.Records))
	for _, r := range st.Records {
		if !c.pruneEligible(r, cutoff) {
			survivors = append(survivors, r)
		}
	}
	if len(survivors) < t.PruneFloorKeep {
		ranked := append([]store.Record(nil), st.Records...)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Score > ranked[j].Score
		})
		if len(ranked) > t.PruneFloorKeep {
			ranked = ranked[:t.PruneFloorKeep]
		}
		survivors = ranked
	}

	stats := PruneStats{
		Pruned: len(st.Records) - len(survivors),
		Kept:   len(survivors),
	}
	st.SetRecords(survivors)
	return stats
}

func (c *Controller) pruneEligible(r store.Record, cutoff time.Time) bool {
	stale := store.ParseTimestamp(r.LastSeen).Before(cutoff)
	weak := (r.Score < c.Tuning.PruneScoreLT && r.Penalty > c.Tuning.PrunePenaltyGT) ||
		r.Health == store.HealthAnomalous
	return stale && weak
}
