package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novamind/nova/internal/engine"
	"github.com/novamind/nova/internal/integrity"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every known artifact against its hash sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		p := rt.paths
		artifacts := []struct{ label, path string }{
			{"memory", p.Memory()},
			{"session_log", p.SessionLog()},
			{"healing_summary", p.HealSummary()},
			{"emotion_summary", p.EmotionSummary()},
			{"autonomy_summary", p.AutonomySummary()},
			{"audit_log", p.AuditLog()},
			{"export_heartbeat", p.Export(engine.ExportHeartbeat)},
			{"export_reflection", p.Export(engine.ExportReflection)},
			{"export_metrics", p.Export(engine.ExportMetrics)},
			{"export_bundle", p.Export(engine.ExportBundle)},
		}

		mismatches := 0
		for _, a := range artifacts {
			res := rt.guard.Verify(a.path)
			fmt.Printf("%-20s %s\n", a.label, res.Status)
			if res.Status == integrity.StatusMismatch {
				mismatches++
			}
		}
		if mismatches > 0 {
			return fmt.Errorf("%d artifact(s) failed verification", mismatches)
		}
		return nil
	},
}
