package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Health states assigned by the healing engine.
const (
	HealthOK        = "ok"
	HealthHealed    = "healed"
	HealthAnomalous = "anomalous"
)

// TimeLayout is the canonical second-precision UTC timestamp form. Anything
// else in a record's last_seen is an anomaly and gets replaced on repair.
const TimeLayout = "2006-01-02T15:04:05Z"

var isoZ = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`)

// Now returns the current UTC time in canonical form.
func Now() string { return time.Now().UTC().Format(TimeLayout) }

// ValidTimestamp reports whether s is in canonical form.
func ValidTimestamp(s string) bool { return isoZ.MatchString(s) }

// ParseTimestamp returns the time for a canonical timestamp, or the epoch
// for anything malformed.
func ParseTimestamp(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// Affect is the heuristic emotional tone attached to a record.
type Affect struct {
	Valence float64  `json:"valence"`
	Arousal float64  `json:"arousal"`
	Labels  []string `json:"labels"`
}

// DefaultAffect is the neutral baseline attached when a record carries none.
func DefaultAffect() Affect {
	return Affect{Valence: 0.0, Arousal: 0.3, Labels: []string{}}
}

// Record is the atomic unit of long-term state.
type Record struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Score    float64  `json:"score"`
	LastSeen string   `json:"last_seen"`
	Health   string   `json:"health"`
	Penalty  float64  `json:"penalty"`
	Affect   Affect   `json:"affect"`
}

// NewRecord returns a schema-valid empty record with a fresh id.
func NewRecord() Record {
	return Record{
		ID:       uuid.NewString(),
		Content:  "",
		Tags:     []string{},
		Score:    0.0,
		LastSeen: Now(),
		Health:   HealthOK,
		Penalty:  0.0,
		Affect:   DefaultAffect(),
	}
}

// Signature is the content identity used for deduplication: the content
// plus the sorted tag set. Two records with equal signatures are the same
// memory regardless of id.
func (r Record) Signature() string {
	tags := append([]string(nil), r.Tags...)
	sort.Strings(tags)
	return r.Content + "\x00" + strings.Join(tags, "\x1f")
}

var requiredFields = []string{"id", "content", "tags", "score", "last_seen"}

// Normalize coerces an arbitrary JSON value into a well-formed Record.
// Non-object input yields a fresh default record. The second return reports
// whether anything had to be repaired or defaulted.
func Normalize(raw json.RawMessage) (Record, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return NewRecord(), true
	}
	return normalizeMap(m)
}

func normalizeMap(m map[string]any) (Record, bool) {
	rec := NewRecord()
	changed := false

	for _, f := range requiredFields {
		if _, ok := m[f]; !ok {
			changed = true
			break
		}
	}

	switch id := m["id"].(type) {
	case string:
		if id != "" {
			rec.ID = id
		} else {
			changed = true
		}
	case nil:
		changed = true
	default:
		// Non-string ids are stringified, not regenerated, so two records
		// sharing a numeric id still collide and take the id-dedup path.
		rec.ID = fmt.Sprint(id)
		changed = true
	}

	switch v := m["content"].(type) {
	case string:
		rec.Content = v
	case float64, bool:
		rec.Content = fmt.Sprint(v)
		changed = true
	default:
		rec.Content = ""
		if v != nil {
			changed = true
		}
	}

	if tags, ok := m["tags"].([]any); ok {
		seen := make(map[string]bool, len(tags))
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			s, isStr := t.(string)
			if !isStr {
				s = fmt.Sprint(t)
				changed = true
			}
			if seen[s] {
				changed = true // duplicates collapse on repair
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
		rec.Tags = out
	} else {
		rec.Tags = []string{}
		if _, present := m["tags"]; present {
			changed = true
		}
	}

	var numOK bool
	rec.Score, numOK = toFloat(m["score"])
	if !numOK {
		changed = true
	}
	rec.Penalty, numOK = toFloat(m["penalty"])
	if !numOK {
		changed = true
	}
	rec.Penalty = clip(rec.Penalty, 0.0, 1.0)

	if ts, ok := m["last_seen"].(string); ok && ValidTimestamp(ts) {
		rec.LastSeen = ts
	} else {
		rec.LastSeen = Now()
		changed = true
	}

	switch m["health"] {
	case HealthOK, HealthHealed, HealthAnomalous:
		rec.Health = m["health"].(string)
	default:
		rec.Health = HealthOK
		if _, present := m["health"]; present {
			changed = true
		}
	}

	if aff, ok := m["affect"].(map[string]any); ok {
		if v, ok := toFloat(aff["valence"]); ok {
			rec.Affect.Valence = clip(v, -1.0, 1.0)
		}
		if a, ok := toFloat(aff["arousal"]); ok {
			rec.Affect.Arousal = clip(a, 0.0, 1.0)
		}
		if labels, ok := aff["labels"].([]any); ok {
			out := make([]string, 0, len(labels))
			for _, l := range labels {
				if s, isStr := l.(string); isStr {
					out = append(out, s)
				}
			}
			rec.Affect.Labels = out
		}
	}

	// Unknown keys mean the shape drifted from the schema.
	known := map[string]bool{
		"id": true, "content": true, "tags": true, "score": true,
		"last_seen": true, "health": true, "penalty": true, "affect": true,
	}
	for k := range m {
		if !known[k] {
			changed = true
			break
		}
	}

	return rec, changed
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0.0, false
		}
		return f, true
	case nil:
		return 0.0, true // absent defaults cleanly
	default:
		return 0.0, false
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
