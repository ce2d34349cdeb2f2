package engine

import (
	"encoding/json"
	"log"

	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

// Export artifact names. External consumers poll these; the names are part
// of the file contract.
const (
	ExportHeartbeat  = "heartbeat.json"
	ExportReflection = "reflection.json"
	ExportMetrics    = "metrics.json"
	ExportBundle     = "sync_bundle.json"
)

// envelope stamps the export metadata keys onto a payload. Every exported
// snapshot is tagged with its owner so consumers can check the principal.
func (e *Engine) envelope(payload map[string]any) map[string]any {
	out := map[string]any{
		"_ts":      store.Now(),
		"_version": e.Version,
		"_owner":   e.Owner,
	}
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func (e *Engine) exportWrite(name string, payload map[string]any) {
	path := e.Paths.Export(name)
	if err := e.Guard.WriteAndSeal(path, e.envelope(payload)); err != nil {
		log.Printf("export %s: %v", name, err)
	}
}

// exportAll overwrites the per-cycle snapshots: heartbeat, latest
// reflection+affect, latest metrics, and the combined bundle.
func (e *Engine) exportAll(insight string, affect store.RecentAffect, healStatus string, resilience float64, recalledIDs []string, lastMS, sleepSec float64) {
	reflection := map[string]any{"insight": insight, "affect": affect}
	loop := map[string]any{
		"heal_status":   healStatus,
		"resilience":    resilience,
		"recalled":      recalledIDs,
		"last_cycle_ms": round2(lastMS),
		"sleep_sec":     sleepSec,
	}

	e.exportWrite(ExportHeartbeat, map[string]any{"alive": true})
	e.exportWrite(ExportReflection, reflection)
	e.exportWrite(ExportMetrics, loop)
	e.exportWrite(ExportBundle, map[string]any{"reflection": reflection, "loop": loop})
}

type summaryDoc struct {
	Schema  int               `json:"schema"`
	History []json.RawMessage `json:"history"`
}

// appendPulse appends one pulse to a summary file's history, trimming to
// the configured cap.
func (e *Engine) appendPulse(path string, pulse any) {
	doc := summaryDoc{Schema: 1}
	integrity.ReadJSON(path, &doc)
	doc.Schema = 1

	raw, err := json.Marshal(pulse)
	if err != nil {
		log.Printf("marshal pulse for %s: %v", path, err)
		return
	}
	doc.History = append(doc.History, raw)
	if e.PulseCap > 0 && len(doc.History) > e.PulseCap {
		doc.History = doc.History[len(doc.History)-e.PulseCap:]
	}
	if err := e.Guard.WriteAndSeal(path, doc); err != nil {
		log.Printf("write summary %s: %v", path, err)
	}
}

// archivePulse stores the pulse in the unbounded SQLite archive, when one
// is configured.
func (e *Engine) archivePulse(kind, ts string, pulse any) {
	if e.Archive == nil {
		return
	}
	if _, err := e.Archive.Append(kind, ts, pulse); err != nil {
		log.Printf("archive %s pulse: %v", kind, err)
	}
}
