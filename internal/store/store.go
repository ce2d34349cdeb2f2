package store

import (
	"encoding/json"
	"os"

	"github.com/novamind/nova/internal/integrity"
)

// SchemaVersion of the persisted store document.
const SchemaVersion = 24

// Meta is the store document's self-description.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	Version       string `json:"version"`
	Updated       string `json:"updated"`
}

// RecentAffect is the most recent computed affect, persisted in signals.
type RecentAffect struct {
	Valence float64  `json:"valence"`
	Arousal float64  `json:"arousal"`
	Labels  []string `json:"labels"`
	TS      string   `json:"ts"`
}

// PruneEvent records the last prune run by the autonomy controller.
type PruneEvent struct {
	TS     string `json:"ts"`
	Pruned int    `json:"pruned"`
	Kept   int    `json:"kept"`
}

// AutonomyState holds the controller's tempo and rolling counters.
type AutonomyState struct {
	SleepSec      float64     `json:"sleep_sec"`
	RollingMS     []float64   `json:"rolling_ms"`
	RollingErrors []int       `json:"rolling_errors"`
	LastPrune     *PruneEvent `json:"last_prune,omitempty"`
}

// Signals is the process-wide auxiliary state inside the store. Created on
// first load, mutated every cycle, never independently destroyed.
type Signals struct {
	RecentAffect *RecentAffect  `json:"recent_affect,omitempty"`
	Autonomy     *AutonomyState `json:"autonomy,omitempty"`
}

// State is the full in-memory store document.
//
// Records loaded from disk arrive in Raw, shape unverified; the healing
// engine consumes Raw and produces Records. Until then, saves pass Raw back
// through untouched so a load/save round trip before healing is lossless.
type State struct {
	Meta       Meta
	Raw        []json.RawMessage
	Records    []Record
	Signals    Signals
	Quarantine map[string]json.RawMessage

	healed bool
}

// NewState returns a fresh, schema-valid empty state.
func NewState() *State {
	return &State{
		Meta:    Meta{SchemaVersion: SchemaVersion},
		Records: []Record{},
		healed:  true,
	}
}

// SetRecords installs the healed record set, replacing the raw form.
func (st *State) SetRecords(recs []Record) {
	st.Records = recs
	st.Raw = nil
	st.healed = true
}

// Healed reports whether the record set has been through a healing pass.
func (st *State) Healed() bool { return st.healed }

// PushRecord appends a record to the live set, or to the raw set when the
// state has not been healed yet (it will be normalized again on heal).
func (st *State) PushRecord(rec Record) {
	if st.healed {
		st.Records = append(st.Records, rec)
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	st.Raw = append(st.Raw, data)
}

// RawRecords returns the record set in raw form for a healing pass,
// marshaling the live set back down if one is already installed.
func (st *State) RawRecords() []json.RawMessage {
	if !st.healed {
		return st.Raw
	}
	out := make([]json.RawMessage, 0, len(st.Records))
	for _, r := range st.Records {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// RecordCount returns the number of records in whichever form is live.
func (st *State) RecordCount() int {
	if st.healed {
		return len(st.Records)
	}
	return len(st.Raw)
}

var knownKeys = map[string]bool{
	"_meta": true, "core_memories": true, "signals": true, "quarantine": true,
}

// UnmarshalJSON decodes defensively: known keys get strict decoding with
// defaults, unrecognized top-level keys land in the quarantine bucket so no
// schema drift is ever lossy.
func (st *State) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	st.Meta = Meta{SchemaVersion: SchemaVersion}
	if raw, ok := doc["_meta"]; ok {
		json.Unmarshal(raw, &st.Meta)
	}

	st.Raw = nil
	if raw, ok := doc["core_memories"]; ok {
		json.Unmarshal(raw, &st.Raw)
	}
	st.Records = nil
	st.healed = false

	st.Signals = Signals{}
	if raw, ok := doc["signals"]; ok {
		json.Unmarshal(raw, &st.Signals)
	}

	st.Quarantine = nil
	if raw, ok := doc["quarantine"]; ok {
		json.Unmarshal(raw, &st.Quarantine)
	}
	for k, v := range doc {
		if knownKeys[k] {
			continue
		}
		if st.Quarantine == nil {
			st.Quarantine = make(map[string]json.RawMessage)
		}
		st.Quarantine[k] = v
	}
	return nil
}

// MarshalJSON writes the canonical document shape.
func (st *State) MarshalJSON() ([]byte, error) {
	var records any
	if st.healed {
		if st.Records == nil {
			records = []Record{}
		} else {
			records = st.Records
		}
	} else {
		if st.Raw == nil {
			records = []json.RawMessage{}
		} else {
			records = st.Raw
		}
	}
	doc := struct {
		Meta       Meta                       `json:"_meta"`
		Records    any                        `json:"core_memories"`
		Signals    Signals                    `json:"signals"`
		Quarantine map[string]json.RawMessage `json:"quarantine,omitempty"`
	}{st.Meta, records, st.Signals, st.Quarantine}
	return json.Marshal(doc)
}

// Store owns the durable memory document. Every save goes through the
// integrity guard so the file always carries a fresh hash sidecar.
type Store struct {
	Path    string
	Version string

	guard *integrity.Guard
}

// New creates a Store backed by the file at path.
func New(path, version string, guard *integrity.Guard) *Store {
	return &Store{Path: path, Version: version, guard: guard}
}

// Load reads the store document. Fails soft: a missing or corrupt backing
// file yields a fresh, schema-valid empty state, never an error.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return NewState()
	}
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return NewState()
	}
	return st
}

// Save stamps metadata and writes the document atomically with its hash
// sidecar.
func (s *Store) Save(st *State) error {
	st.Meta.SchemaVersion = SchemaVersion
	st.Meta.Version = s.Version
	st.Meta.Updated = Now()
	return s.guard.WriteAndSeal(s.Path, st)
}
