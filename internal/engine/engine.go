// Package engine implements the self-regulating memory loop: reflect, heal,
// recall, evolve, autonomy-adjust, export, verify, sleep.
package engine

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/config"
	"github.com/novamind/nova/internal/inbox"
	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

// Engine ties the subsystems into the self-mechanism loop. It is the single
// writer of the memory store; every mutation happens synchronously inside
// one cycle.
type Engine struct {
	Store   *store.Store
	Guard   *integrity.Guard
	Audit   *audit.Log
	Inbox   *inbox.Inbox
	Control *Controller
	Paths   config.Paths
	Owner   string
	Version string

	// Optional collaborators.
	Archive  *store.Archive      // unbounded pulse history
	Sentinel *integrity.Sentinel // between-cycle tamper watch
	Console  <-chan string       // interactive input lines

	RecallLimit     int
	ConsoleDrainMax int
	PulseCap        int

	lastResilience float64
}

// CycleResult summarizes one completed cycle.
type CycleResult struct {
	Insight     string
	HealStatus  string
	Resilience  float64
	RecalledIDs []string
	Changed     int
	LastMS      float64
	SleepSec    float64
	Effects     inbox.Effects
}

// Bootstrap seeds an empty store with a single baseline record so the first
// recall has something to return, and logs the startup event.
func (e *Engine) Bootstrap() error {
	st := e.Store.Load()
	if st.RecordCount() == 0 {
		rec := store.NewRecord()
		rec.Content = "Engine initialized and stable. Ready to win."
		rec.Tags = []string{"system", "init", "ready"}
		rec.Score = 0.6
		st.PushRecord(rec)
		if err := e.Store.Save(st); err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
	}
	e.Audit.Session("startup", audit.Event{"version": e.Version})
	return nil
}

// VerifyStartup checks every known artifact against its sidecar, recording
// a verify audit event per artifact. Mismatches are warnings, never fatal.
func (e *Engine) VerifyStartup() bool {
	allOK := true
	for _, a := range e.knownArtifacts() {
		res := e.Guard.Verify(a.path)
		e.Audit.Audit(audit.Event{
			"kind": "verify", "label": a.label, "status": string(res.Status), "path": a.path,
		})
		if res.Status == integrity.StatusMismatch {
			allOK = false
			log.Printf("[SECURITY] Hash mismatch detected in %s", filepath.Base(a.path))
		}
	}
	return allOK
}

type artifact struct {
	label string
	path  string
}

func (e *Engine) knownArtifacts() []artifact {
	p := e.Paths
	return []artifact{
		{"memory", p.Memory()},
		{"session_log", p.SessionLog()},
		{"healing_summary", p.HealSummary()},
		{"emotion_summary", p.EmotionSummary()},
		{"autonomy_summary", p.AutonomySummary()},
		{"export_heartbeat", p.Export(ExportHeartbeat)},
		{"export_reflection", p.Export(ExportReflection)},
		{"export_metrics", p.Export(ExportMetrics)},
		{"export_bundle", p.Export(ExportBundle)},
	}
}

// Run executes the loop until the context is cancelled or a stop command
// arrives. A failed cycle is logged, fed to the autonomy controller as an
// error signal, and the loop continues; nothing short of cancellation exits.
func (e *Engine) Run(ctx context.Context) error {
	sleepSec := e.Control.Tuning.SleepBaseSec
	if auto := e.Store.Load().Signals.Autonomy; auto != nil && auto.SleepSec > 0 {
		sleepSec = e.Control.ClampSleep(auto.SleepSec)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		stop, override := e.drainConsole()
		if stop {
			log.Printf("[loop] stop requested")
			return nil
		}

		t0 := time.Now()
		res, err := e.safeCycle(ctx, override)
		if err != nil {
			log.Printf("[loop] cycle error: %v", err)
			e.Audit.Audit(audit.Event{
				"kind": "error", "severity": "warning", "msg": err.Error(),
			})
			sleepSec = e.adjustAfterError(time.Since(t0))
		} else {
			sleepSec = res.SleepSec
		}

		if !sleepCtx(ctx, time.Duration(sleepSec*float64(time.Second))) {
			return nil
		}
	}
}

// safeCycle runs one cycle and converts a panic into an error, so the loop
// itself can never crash-exit.
func (e *Engine) safeCycle(ctx context.Context, sleepOverride *float64) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return e.Cycle(ctx, sleepOverride)
}

// Cycle runs one full pass: tamper check, import, reflect, heal, recall,
// evolve, autonomy-adjust, save, export, verify.
func (e *Engine) Cycle(ctx context.Context, sleepOverride *float64) (CycleResult, error) {
	t0 := time.Now()
	var res CycleResult

	e.checkTamper()

	st := e.Store.Load()

	res.Effects = e.Inbox.Import(st)
	if res.Effects.Ignored {
		log.Printf("[warn] unauthorized command ignored")
	}
	if res.Effects.SetSleep != nil {
		e.setSleep(st, *res.Effects.SetSleep)
	}
	if sleepOverride != nil {
		e.setSleep(st, *sleepOverride)
	}

	insight, affect := e.Reflect(st)
	res.Insight = insight
	log.Printf("[reflect] %s", insight)

	healed, resilience, healPulse := Heal(st.RawRecords(), e.Version)
	st.SetRecords(healed)
	res.HealStatus = healPulse.StatusLine()
	res.Resilience = resilience
	e.appendPulse(e.Paths.HealSummary(), healPulse)
	e.archivePulse(store.PulseHealing, healPulse.TS, healPulse)
	e.Audit.Session("heal", audit.Event{"status": res.HealStatus})
	log.Printf("[heal] %s", res.HealStatus)

	recalled := Recall(st.Records, st.Signals.RecentAffect, e.RecallLimit)
	res.RecalledIDs = RecalledIDs(recalled)
	e.Audit.Session("recall", audit.Event{"count": len(recalled)})
	log.Printf("[recall] %d items", len(recalled))

	changed, emoPulse := Evolve(st, res.RecalledIDs, e.Version)
	res.Changed = changed
	e.appendPulse(e.Paths.EmotionSummary(), emoPulse)
	e.archivePulse(store.PulseEmotion, emoPulse.TS, emoPulse)
	e.Audit.Session("evolve", audit.Event{"changed": changed})
	log.Printf("[evolve] score_updates=%d", changed)

	res.LastMS = float64(time.Since(t0)) / float64(time.Millisecond)
	sleepSec, autoPulse := e.Control.Adjust(st, res.LastMS, false, len(recalled), resilience)
	res.SleepSec = sleepSec
	e.appendPulse(e.Paths.AutonomySummary(), autoPulse)
	e.archivePulse(store.PulseAutonomy, autoPulse.TS, autoPulse)

	if err := e.Store.Save(st); err != nil {
		return res, fmt.Errorf("save store: %w", err)
	}

	e.exportAll(insight, affect, res.HealStatus, resilience, res.RecalledIDs, res.LastMS, sleepSec)
	e.verifyCycle()

	// Dismiss watcher events generated by our own writes; anything seen
	// after this point happened while we were asleep.
	if e.Sentinel != nil {
		e.Sentinel.Drain()
	}

	e.lastResilience = resilience
	return res, ctx.Err()
}

func (e *Engine) setSleep(st *store.State, sec float64) {
	if st.Signals.Autonomy == nil {
		st.Signals.Autonomy = &store.AutonomyState{}
	}
	st.Signals.Autonomy.SleepSec = e.Control.ClampSleep(sec)
}

// adjustAfterError feeds the failure into the autonomy controller on a
// freshly loaded state so backoff still applies when a cycle died mid-way.
func (e *Engine) adjustAfterError(elapsed time.Duration) float64 {
	st := e.Store.Load()
	lastMS := float64(elapsed) / float64(time.Millisecond)
	sleepSec, pulse := e.Control.Adjust(st, lastMS, true, 0, e.lastResilience)
	e.appendPulse(e.Paths.AutonomySummary(), pulse)
	e.archivePulse(store.PulseAutonomy, pulse.TS, pulse)
	if err := e.Store.Save(st); err != nil {
		log.Printf("save after error: %v", err)
	}
	return sleepSec
}

// checkTamper re-verifies any sealed artifact touched by another process
// since the last cycle's exports.
func (e *Engine) checkTamper() {
	if e.Sentinel == nil {
		return
	}
	for _, path := range e.Sentinel.Drain() {
		if strings.HasSuffix(path, ".sha") {
			path = strings.TrimSuffix(path, ".sha")
		}
		res := e.Guard.Verify(path)
		e.Audit.Audit(audit.Event{
			"kind": "verify", "label": "sentinel", "status": string(res.Status), "path": path,
		})
		if res.Status == integrity.StatusMismatch {
			e.Audit.Audit(audit.Event{
				"kind": "security", "severity": "warning",
				"msg": "External write detected on sealed artifact", "file": path,
			})
			log.Printf("[SECURITY] Hash mismatch detected in %s", filepath.Base(path))
		}
	}
}

// verifyCycle re-checks the artifacts touched this cycle.
func (e *Engine) verifyCycle() {
	for _, a := range e.knownArtifacts() {
		res := e.Guard.Verify(a.path)
		status := string(res.Status)
		e.Audit.Audit(audit.Event{
			"kind": "verify", "label": a.label, "status": status, "path": a.path,
		})
		if res.Status == integrity.StatusMismatch {
			log.Printf("[SECURITY] Hash mismatch detected in %s", filepath.Base(a.path))
		}
	}
}

// drainConsole handles a bounded number of pending interactive lines.
func (e *Engine) drainConsole() (stop bool, sleepOverride *float64) {
	if e.Console == nil {
		return false, nil
	}
	max := e.ConsoleDrainMax
	if max <= 0 {
		max = 8
	}
	for i := 0; i < max; i++ {
		select {
		case line, ok := <-e.Console:
			if !ok {
				return false, sleepOverride
			}
			if s, override := e.handleLine(line); s {
				return true, sleepOverride
			} else if override != nil {
				sleepOverride = override
			}
		default:
			return false, sleepOverride
		}
	}
	return false, sleepOverride
}

func (e *Engine) handleLine(line string) (stop bool, sleepOverride *float64) {
	e.Audit.Session("interaction", audit.Event{"text": line})
	lower := strings.ToLower(line)

	switch {
	case lower == "stop" || lower == "exit" || lower == "quit":
		return true, nil
	case strings.HasPrefix(lower, "sleep "):
		sec, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(lower, "sleep ")), 64)
		if err != nil {
			log.Printf("[console] give me a number, like `sleep 8`")
			return false, nil
		}
		clamped := e.Control.ClampSleep(sec)
		log.Printf("[console] cycle sleep set to %.1fs", clamped)
		return false, &clamped
	case lower == "status":
		var metrics map[string]any
		if err := integrity.ReadJSON(e.Paths.Export(ExportMetrics), &metrics); err == nil {
			log.Printf("[console] status → resilience=%v last_ms=%v recalled=%v",
				metrics["resilience"], metrics["last_cycle_ms"], metrics["recalled"])
		} else {
			log.Printf("[console] no metrics yet")
		}
		return false, nil
	default:
		log.Printf("[console] noted")
		return false, nil
	}
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false on cancellation so shutdown latency never waits out a full sleep.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
