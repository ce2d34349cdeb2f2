package engine

import (
	"fmt"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/store"
)

// Reflect derives an insight from the recent session history, scores its
// affect, and installs the result as the engine's current mood signal.
func (e *Engine) Reflect(st *store.State) (string, store.RecentAffect) {
	window := e.Audit.RecentSessions(10)

	insight := "No recent events; baseline stable."
	if len(window) > 0 {
		counts := make(map[string]int)
		var order []string
		for _, ev := range window {
			kind, _ := ev["kind"].(string)
			if kind == "" {
				kind = "unknown"
			}
			if counts[kind] == 0 {
				order = append(order, kind)
			}
			counts[kind]++
		}
		top := order[0]
		for _, k := range order[1:] {
			if counts[k] > counts[top] {
				top = k
			}
		}
		insight = fmt.Sprintf("Recent focus: %s (%d events).", top, counts[top])
	}

	valence, arousal, labels := Analyze(insight)
	aff := store.RecentAffect{
		Valence: valence,
		Arousal: arousal,
		Labels:  labels,
		TS:      store.Now(),
	}
	st.Signals.RecentAffect = &aff

	e.Audit.Session("reflection", audit.Event{
		"insight": insight,
		"affect":  map[string]any{"valence": valence, "arousal": arousal, "labels": labels},
	})
	return insight, aff
}
