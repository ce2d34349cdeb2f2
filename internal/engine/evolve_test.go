package engine

import (
	"math"
	"testing"

	"github.com/novamind/nova/internal/store"
)

func evolveState(recs ...store.Record) *store.State {
	st := store.NewState()
	st.SetRecords(recs)
	return st
}

func TestEvolveReinforcesRecalled(t *testing.T) {
	r := rec("a", 0.6, 0, store.HealthOK)
	st := evolveState(r)

	changed, _ := Evolve(st, []string{"a"}, "test")
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	got := st.Records[0]
	if math.Abs(got.Score-0.7) > 1e-9 {
		t.Errorf("score = %v, want 0.7", got.Score)
	}
	if got.LastSeen == r.LastSeen {
		t.Error("last_seen not refreshed")
	}
}

func TestEvolveSkipsNotRecalled(t *testing.T) {
	a := rec("a", 0.5, 0.3, store.HealthHealed)
	b := rec("b", 0.5, 0, store.HealthOK)
	st := evolveState(a, b)

	changed, _ := Evolve(st, []string{"b"}, "test")
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	got := st.Records[0]
	if got.Score != a.Score || got.Penalty != a.Penalty || got.Health != a.Health || got.LastSeen != a.LastSeen {
		t.Errorf("untouched record mutated: %+v", got)
	}
}

func TestEvolvePenaltyDecayFloorsAtZero(t *testing.T) {
	r := rec("a", 0.5, 0.03, store.HealthHealed)
	st := evolveState(r)

	Evolve(st, []string{"a"}, "test")
	if got := st.Records[0].Penalty; got != 0.01 {
		t.Errorf("penalty = %v, want 0.01 after one decay step", got)
	}

	Evolve(st, []string{"a"}, "test")
	if got := st.Records[0].Penalty; got != 0.0 {
		t.Errorf("penalty = %v, want floor 0", got)
	}
}

func TestEvolvePromotesOncePenaltyClears(t *testing.T) {
	r := rec("a", 0.5, 0.02, store.HealthHealed)
	st := evolveState(r)

	Evolve(st, []string{"a"}, "test")
	got := st.Records[0]
	if got.Penalty != 0 {
		t.Fatalf("penalty = %v, want 0", got.Penalty)
	}
	if got.Health != store.HealthOK {
		t.Errorf("health = %q, want ok after penalty cleared", got.Health)
	}

	// Anomalous promotes through the same gate.
	r2 := rec("b", 0.5, 0.02, store.HealthAnomalous)
	st2 := evolveState(r2)
	Evolve(st2, []string{"b"}, "test")
	if got := st2.Records[0].Health; got != store.HealthOK {
		t.Errorf("anomalous health = %q, want ok", got)
	}
}

func TestEvolveNoPromotionWhilePenaltyRemains(t *testing.T) {
	r := rec("a", 0.5, 0.5, store.HealthHealed)
	st := evolveState(r)

	Evolve(st, []string{"a"}, "test")
	got := st.Records[0]
	if got.Health != store.HealthHealed {
		t.Errorf("health = %q, want healed while penalty %v remains", got.Health, got.Penalty)
	}
}

func TestEvolveRelaxesExtremeValence(t *testing.T) {
	r := rec("a", 0.5, 0, store.HealthOK)
	r.Affect.Valence = 1.0
	st := evolveState(r)

	Evolve(st, []string{"a"}, "test")
	if got := st.Records[0].Affect.Valence; got != 0.95 {
		t.Errorf("valence = %v, want 0.95", got)
	}

	// Moderate valence is left alone.
	r2 := rec("b", 0.5, 0, store.HealthOK)
	r2.Affect.Valence = 0.5
	st2 := evolveState(r2)
	Evolve(st2, []string{"b"}, "test")
	if got := st2.Records[0].Affect.Valence; got != 0.5 {
		t.Errorf("moderate valence moved to %v", got)
	}
}

func TestEvolveArousalDriftsTowardBaseline(t *testing.T) {
	r := rec("a", 0.5, 0, store.HealthOK)
	r.Affect.Arousal = 0.95
	st := evolveState(r)

	Evolve(st, []string{"a"}, "test")
	if got := st.Records[0].Affect.Arousal; got != 0.93 {
		t.Errorf("arousal = %v, want 0.93", got)
	}

	r2 := rec("b", 0.5, 0, store.HealthOK)
	r2.Affect.Arousal = 0.15
	st2 := evolveState(r2)
	Evolve(st2, []string{"b"}, "test")
	if got := st2.Records[0].Affect.Arousal; got != 0.17 {
		t.Errorf("low arousal = %v, want 0.17", got)
	}
}

func TestHealRecallEvolvePipeline(t *testing.T) {
	raw := rawRecords(t,
		`{"id":"broken","content":"","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
		`{"id":"good","content":"solid memory","tags":[],"score":0.6,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
	)

	healed, resilience, _ := Heal(raw, "test")
	if resilience != 0.5 {
		t.Fatalf("resilience = %v, want 0.5", resilience)
	}

	st := store.NewState()
	st.SetRecords(healed)

	recalled := Recall(st.Records, nil, 1)
	if len(recalled) != 1 || recalled[0].ID != "good" {
		t.Fatalf("recalled %v, want the valid record", RecalledIDs(recalled))
	}

	changed, _ := Evolve(st, RecalledIDs(recalled), "test")
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	for _, r := range st.Records {
		switch r.ID {
		case "good":
			if math.Abs(r.Score-0.7) > 1e-9 {
				t.Errorf("reinforced score = %v, want 0.7", r.Score)
			}
		case "broken":
			if r.Score != 0 || r.Health != store.HealthAnomalous || r.Penalty != 0.2 {
				t.Errorf("anomalous record mutated: %+v", r)
			}
		}
	}
}

func TestEvolvePulseAverages(t *testing.T) {
	a := rec("a", 0.5, 0, store.HealthOK)
	a.Affect = store.Affect{Valence: 0.4, Arousal: 0.6}
	b := rec("b", 0.5, 0, store.HealthOK)
	b.Affect = store.Affect{Valence: -0.2, Arousal: 0.4}
	st := evolveState(a, b)

	_, pulse := Evolve(st, nil, "test")
	if pulse.AvgValence != 0.1 {
		t.Errorf("avg valence = %v, want 0.1", pulse.AvgValence)
	}
	if pulse.AvgArousal != 0.5 {
		t.Errorf("avg arousal = %v, want 0.5", pulse.AvgArousal)
	}

	empty := store.NewState()
	_, pulse = Evolve(empty, nil, "test")
	if pulse.AvgValence != 0 || pulse.AvgArousal != 0 {
		t.Errorf("empty store averages = %v/%v, want 0/0", pulse.AvgValence, pulse.AvgArousal)
	}
}
