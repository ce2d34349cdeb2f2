package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/novamind/nova/internal/store"
)

// PreScan counts anomalies in the raw record set before any mutation.
type PreScan struct {
	NonRecord     int `json:"non_record"`
	MissingFields int `json:"missing_fields"`
	BadTimestamp  int `json:"bad_timestamp"`
	DuplicateIDs  int `json:"duplicate_ids"`
}

func (p PreScan) clean() bool {
	return p.NonRecord == 0 && p.MissingFields == 0 && p.BadTimestamp == 0 && p.DuplicateIDs == 0
}

// Repairs counts what a healing pass actually did.
type Repairs struct {
	Normalized     int `json:"normalized_or_fixed"`
	DedupSignature int `json:"dedup_signature"`
	DedupIDs       int `json:"dedup_ids"`
	Anomalous      int `json:"anomalous"`
}

// PostScan is the health breakdown after healing.
type PostScan struct {
	Total      int     `json:"total"`
	OK         int     `json:"ok"`
	Healed     int     `json:"healed"`
	Anomalous  int     `json:"anomalous"`
	Resilience float64 `json:"resilience"`
}

// HealingPulse is one cycle's healing audit record.
type HealingPulse struct {
	TS      string   `json:"ts"`
	Version string   `json:"version"`
	Pre     PreScan  `json:"pre"`
	Repairs Repairs  `json:"repairs"`
	Post    PostScan `json:"post"`
	Status  string   `json:"status"`
}

// StatusLine renders the one-line heal status used in logs and the session
// history.
func (p HealingPulse) StatusLine() string {
	return fmt.Sprintf("ok | items=%d | dedup_sig=%d | dedup_ids=%d | repaired=%d | resilience=%g",
		p.Post.Total, p.Repairs.DedupSignature, p.Repairs.DedupIDs, p.Repairs.Normalized, p.Post.Resilience)
}

// Heal scans, normalizes, deduplicates, and quarantines the raw record set.
// Order matters: signature dedup (first occurrence wins) runs before id
// dedup, and anomalous records are kept in place, never discarded. Penalty
// floors only ever raise an existing penalty.
func Heal(raw []json.RawMessage, version string) ([]store.Record, float64, HealingPulse) {
	pre := preScan(raw)

	seenSig := make(map[string]bool)
	seenID := make(map[string]bool)
	healed := make([]store.Record, 0, len(raw))
	var rep Repairs

	for _, item := range raw {
		norm, changed := store.Normalize(item)
		if changed {
			rep.Normalized++
		}

		sig := norm.Signature()
		if seenSig[sig] {
			rep.DedupSignature++
			continue
		}
		seenSig[sig] = true

		if seenID[norm.ID] {
			rep.DedupIDs++
			norm.ID = uuid.NewString()
			norm.Health = store.HealthHealed
			norm.Penalty = math.Max(norm.Penalty, 0.15)
		}
		seenID[norm.ID] = true

		if norm.Content == "" {
			norm.Health = store.HealthAnomalous
			norm.Penalty = math.Max(norm.Penalty, 0.2)
			rep.Anomalous++
		}

		healed = append(healed, norm)
	}

	total := len(healed)
	var okCount, healedCount, anomCount int
	for _, r := range healed {
		switch r.Health {
		case store.HealthOK:
			okCount++
		case store.HealthHealed:
			healedCount++
		case store.HealthAnomalous:
			anomCount++
		}
	}
	resilience := 0.0
	if total > 0 {
		resilience = round3(float64(okCount) / float64(total))
	}

	status := "OK"
	if rep.Anomalous > 0 || !pre.clean() {
		status = "WARN"
	}
	pulse := HealingPulse{
		TS:      store.Now(),
		Version: version,
		Pre:     pre,
		Repairs: rep,
		Post: PostScan{
			Total:      total,
			OK:         okCount,
			Healed:     healedCount,
			Anomalous:  anomCount,
			Resilience: resilience,
		},
		Status:  status,
	}
	return healed, resilience, pulse
}

func preScan(raw []json.RawMessage) PreScan {
	var pre PreScan
	idSeen := make(map[string]bool)
	dupIDs := make(map[string]bool)

	for _, item := range raw {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			pre.NonRecord++
			continue
		}
		for _, f := range []string{"id", "content", "tags", "score", "last_seen"} {
			if _, ok := m[f]; !ok {
				pre.MissingFields++
				break
			}
		}
		ts, _ := m["last_seen"].(string)
		if !store.ValidTimestamp(ts) {
			pre.BadTimestamp++
		}
		id := fmt.Sprint(m["id"])
		if idSeen[id] {
			dupIDs[id] = true
		} else {
			idSeen[id] = true
		}
	}
	pre.DuplicateIDs = len(dupIDs)
	return pre
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
