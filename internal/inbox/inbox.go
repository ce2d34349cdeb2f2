// Package inbox ingests external commands. The file-based command channel
// is owner-locked: a command document not bearing the authorized principal
// is logged and ignored in full, never partially applied.
package inbox

import (
	"encoding/json"
	"log"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

// Effects reports what one import pass applied.
type Effects struct {
	SetSleep *float64
	Pushed   int
	Cleared  bool
	Ignored  bool // unauthorized document seen and discarded
}

// Inbox reads the pending-commands artifact once per cycle.
type Inbox struct {
	Path  string
	Owner string

	guard *integrity.Guard
	audit *audit.Log
}

// New creates an inbox for the commands file at path.
func New(path, owner string, guard *integrity.Guard, auditLog *audit.Log) *Inbox {
	return &Inbox{Path: path, Owner: owner, guard: guard, audit: auditLog}
}

type commandDoc struct {
	Owner         string          `json:"owner"`
	SetSleep      json.RawMessage `json:"set_sleep"`
	PushMemory    map[string]any  `json:"push_memory"`
	ClearCommands bool            `json:"clear_commands"`
}

// Import reads and applies pending commands against the given state.
// A missing or empty commands file is a no-op; a document with the wrong
// owner produces an unauthorized_import session event and a security audit
// warning, and nothing is applied.
func (ib *Inbox) Import(st *store.State) Effects {
	var effects Effects

	var doc commandDoc
	if err := integrity.ReadJSON(ib.Path, &doc); err != nil {
		return effects
	}
	if doc.Owner == "" && doc.SetSleep == nil && doc.PushMemory == nil && !doc.ClearCommands {
		return effects
	}

	if doc.Owner != ib.Owner {
		ib.audit.Session("unauthorized_import", audit.Event{
			"details": map[string]any{"attempt_owner": doc.Owner},
		})
		ib.audit.Audit(audit.Event{
			"kind": "security", "severity": "warning",
			"msg": "Unauthorized import ignored", "file": ib.Path,
		})
		effects.Ignored = true
		return effects
	}

	if doc.SetSleep != nil {
		var sec float64
		if err := json.Unmarshal(doc.SetSleep, &sec); err == nil {
			effects.SetSleep = &sec
		}
	}

	if doc.PushMemory != nil {
		if content, _ := doc.PushMemory["content"].(string); content != "" {
			raw, err := json.Marshal(doc.PushMemory)
			if err == nil {
				rec, _ := store.Normalize(raw)
				st.PushRecord(rec)
				effects.Pushed = 1
			}
		}
	}

	if doc.ClearCommands {
		if err := ib.guard.WriteAndSeal(ib.Path, map[string]any{}); err != nil {
			log.Printf("clear commands: %v", err)
		} else {
			effects.Cleared = true
		}
	}
	return effects
}
