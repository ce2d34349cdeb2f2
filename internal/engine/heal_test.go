package engine

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/novamind/nova/internal/store"
)

func rawRecords(t *testing.T, docs ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

func marshalRecords(t *testing.T, recs []store.Record) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = data
	}
	return out
}

func TestHealEmptyStore(t *testing.T) {
	healed, resilience, pulse := Heal(nil, "test")
	if len(healed) != 0 {
		t.Errorf("healed %d records from empty input", len(healed))
	}
	if resilience != 0.0 {
		t.Errorf("resilience = %v, want 0 for empty store", resilience)
	}
	if pulse.Status != "OK" {
		t.Errorf("status = %q, want OK", pulse.Status)
	}
}

func TestHealIdempotent(t *testing.T) {
	raw := rawRecords(t,
		`{"id":"a","content":"first","tags":["x"],"score":0.5,"last_seen":"bad-ts"}`,
		`{"id":"a","content":"second","tags":[],"score":"oops","last_seen":"2025-01-02T00:00:00Z"}`,
		`"not even a record"`,
		`{"id":"c","content":"","tags":[],"score":0,"last_seen":"2025-01-03T00:00:00Z"}`,
	)

	healed1, res1, _ := Heal(raw, "test")
	healed2, res2, pulse2 := Heal(marshalRecords(t, healed1), "test")

	if res1 != res2 {
		t.Errorf("resilience changed on second pass: %v -> %v", res1, res2)
	}
	if len(healed1) != len(healed2) {
		t.Fatalf("record count changed on second pass: %d -> %d", len(healed1), len(healed2))
	}
	for i := range healed1 {
		a, b := healed1[i], healed2[i]
		if a.ID != b.ID || a.Content != b.Content || a.Health != b.Health || a.Penalty != b.Penalty || a.Score != b.Score {
			t.Errorf("record %d changed on second pass:\n  %+v\n  %+v", i, a, b)
		}
	}
	if pulse2.Repairs.DedupSignature != 0 || pulse2.Repairs.DedupIDs != 0 {
		t.Errorf("second pass still repairing: %+v", pulse2.Repairs)
	}
}

func TestHealDedupBySignatureFirstWins(t *testing.T) {
	mk := func(id string) string {
		return fmt.Sprintf(`{"id":%q,"content":"same","tags":["b","a"],"score":0.1,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`, id)
	}
	raw := rawRecords(t, mk("one"), mk("two"), mk("three"), mk("four"))

	healed, _, pulse := Heal(raw, "test")
	if len(healed) != 1 {
		t.Fatalf("kept %d records, want 1", len(healed))
	}
	if healed[0].ID != "one" {
		t.Errorf("survivor id = %q, want first occurrence", healed[0].ID)
	}
	if pulse.Repairs.DedupSignature != 3 {
		t.Errorf("dedup_signature = %d, want N-1 = 3", pulse.Repairs.DedupSignature)
	}
}

func TestHealDedupCountIndependentOfOrder(t *testing.T) {
	dup := `{"id":"%s","content":"dup","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`
	other := `{"id":"solo","content":"unique","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`

	orders := [][]string{
		{fmt.Sprintf(dup, "a"), fmt.Sprintf(dup, "b"), other},
		{other, fmt.Sprintf(dup, "a"), fmt.Sprintf(dup, "b")},
		{fmt.Sprintf(dup, "a"), other, fmt.Sprintf(dup, "b")},
	}
	for i, docs := range orders {
		healed, _, pulse := Heal(rawRecords(t, docs...), "test")
		if len(healed) != 2 {
			t.Errorf("order %d: kept %d, want 2", i, len(healed))
		}
		if pulse.Repairs.DedupSignature != 1 {
			t.Errorf("order %d: dedup_signature = %d, want 1", i, pulse.Repairs.DedupSignature)
		}
	}
}

func TestHealDuplicateIDGetsFreshIdentity(t *testing.T) {
	raw := rawRecords(t,
		`{"id":"same","content":"alpha","tags":[],"score":0.2,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
		`{"id":"same","content":"beta","tags":[],"score":0.3,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
	)

	healed, _, pulse := Heal(raw, "test")
	if len(healed) != 2 {
		t.Fatalf("kept %d records, want 2 (different content)", len(healed))
	}
	if pulse.Repairs.DedupIDs != 1 {
		t.Errorf("dedup_ids = %d, want 1", pulse.Repairs.DedupIDs)
	}
	reissued := healed[1]
	if reissued.ID == "same" {
		t.Error("colliding id not reissued")
	}
	if reissued.Health != store.HealthHealed {
		t.Errorf("health = %q, want healed", reissued.Health)
	}
	if reissued.Penalty < 0.15 {
		t.Errorf("penalty = %v, want >= 0.15", reissued.Penalty)
	}
}

func TestHealDuplicateNumericIDsCollide(t *testing.T) {
	raw := rawRecords(t,
		`{"id":7,"content":"alpha","tags":[],"score":0.2,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
		`{"id":7,"content":"beta","tags":[],"score":0.3,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
	)

	healed, _, pulse := Heal(raw, "test")
	if len(healed) != 2 {
		t.Fatalf("kept %d records, want 2", len(healed))
	}
	if healed[0].ID != "7" {
		t.Errorf("first id = %q, want stringified 7", healed[0].ID)
	}
	if pulse.Repairs.DedupIDs != 1 {
		t.Errorf("dedup_ids = %d, want 1", pulse.Repairs.DedupIDs)
	}
	if pulse.Pre.DuplicateIDs != pulse.Repairs.DedupIDs {
		t.Errorf("pre-scan saw %d duplicate ids but repairs fixed %d",
			pulse.Pre.DuplicateIDs, pulse.Repairs.DedupIDs)
	}
	reissued := healed[1]
	if reissued.ID == "7" {
		t.Error("colliding numeric id not reissued")
	}
	if reissued.Health != store.HealthHealed || reissued.Penalty < 0.15 {
		t.Errorf("reissued record = health %q penalty %v", reissued.Health, reissued.Penalty)
	}
}

func TestHealPenaltyNeverDecreases(t *testing.T) {
	raw := rawRecords(t,
		`{"id":"x","content":"alpha","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0.6}`,
		`{"id":"x","content":"beta","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0.6}`,
	)
	healed, _, _ := Heal(raw, "test")
	for _, r := range healed {
		if r.Penalty < 0.6 {
			t.Errorf("penalty lowered from 0.6 to %v on repair", r.Penalty)
		}
	}

	// Same floor rule for the empty-content anomaly path.
	raw = rawRecords(t, `{"id":"y","content":"","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0.9}`)
	healed, _, _ = Heal(raw, "test")
	if healed[0].Penalty != 0.9 {
		t.Errorf("anomaly floor overwrote penalty: %v", healed[0].Penalty)
	}
}

func TestHealAnomalousKeptNotDiscarded(t *testing.T) {
	raw := rawRecords(t,
		`{"id":"empty","content":"","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
		`{"id":"good","content":"fine","tags":[],"score":0.6,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`,
	)

	healed, resilience, pulse := Heal(raw, "test")
	if len(healed) != 2 {
		t.Fatalf("anomalous record discarded: kept %d", len(healed))
	}
	anomalous := healed[0]
	if anomalous.Health != store.HealthAnomalous {
		t.Errorf("health = %q, want anomalous", anomalous.Health)
	}
	if anomalous.Penalty < 0.2 {
		t.Errorf("penalty = %v, want >= 0.2", anomalous.Penalty)
	}
	if resilience != 0.5 {
		t.Errorf("resilience = %v, want 0.5", resilience)
	}
	if pulse.Status != "WARN" {
		t.Errorf("status = %q, want WARN with anomalies present", pulse.Status)
	}
	post := pulse.Post
	if post.OK != 1 || post.Healed != 0 || post.Anomalous != 1 {
		t.Errorf("post breakdown = %+v, want ok=1 anomalous=1", post)
	}
}

func TestHealResilienceBounds(t *testing.T) {
	cases := [][]string{
		{`{"id":"a","content":"x","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`},
		{`{"id":"a","content":"","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`},
		{`"garbage"`, `42`, `{"id":"b","content":"y","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z","health":"ok","penalty":0}`},
	}
	for i, docs := range cases {
		healed, res, _ := Heal(rawRecords(t, docs...), "test")
		if res < 0.0 || res > 1.0 {
			t.Errorf("case %d: resilience %v out of [0,1]", i, res)
		}
		allOK := true
		for _, r := range healed {
			if r.Health != store.HealthOK {
				allOK = false
			}
		}
		if (res == 1.0) != allOK {
			t.Errorf("case %d: resilience==1 should hold iff all ok (res=%v allOK=%v)", i, res, allOK)
		}
	}
}

func TestHealPreScanSnapshot(t *testing.T) {
	raw := rawRecords(t,
		`"not-a-record"`,
		`{"id":"a","content":"x","last_seen":"2025-01-01T00:00:00Z"}`,
		`{"id":"b","content":"y","tags":[],"score":0,"last_seen":"whenever"}`,
		`{"id":"b","content":"z","tags":[],"score":0,"last_seen":"2025-01-01T00:00:00Z"}`,
	)
	_, _, pulse := Heal(raw, "test")

	if pulse.Pre.NonRecord != 1 {
		t.Errorf("non_record = %d, want 1", pulse.Pre.NonRecord)
	}
	if pulse.Pre.MissingFields != 1 {
		t.Errorf("missing_fields = %d, want 1", pulse.Pre.MissingFields)
	}
	if pulse.Pre.BadTimestamp != 1 {
		t.Errorf("bad_timestamp = %d, want 1", pulse.Pre.BadTimestamp)
	}
	if pulse.Pre.DuplicateIDs != 1 {
		t.Errorf("duplicate_ids = %d, want 1", pulse.Pre.DuplicateIDs)
	}
}
