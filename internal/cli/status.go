package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/novamind/nova/internal/engine"
	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the latest verified metrics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		path := rt.paths.Export(engine.ExportMetrics)
		res := rt.guard.Verify(path)
		if !res.OK() {
			fmt.Fprintf(os.Stderr, "metrics snapshot: %s\n", res.Status)
			if res.Status == integrity.StatusMissing {
				return nil
			}
		}

		var metrics map[string]any
		if err := integrity.ReadJSON(path, &metrics); err != nil {
			return fmt.Errorf("read metrics: %w", err)
		}
		out, _ := json.MarshalIndent(metrics, "", "  ")
		fmt.Println(string(out))

		if statusHistory > 0 {
			return printHistory(rt, statusHistory)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 0, "also print the last N archived autonomy pulses")
}

func printHistory(rt *runtime, n int) error {
	if !rt.cfg.Archive.Enabled {
		fmt.Fprintln(os.Stderr, "pulse archive disabled in config")
		return nil
	}
	archive, err := store.OpenArchive(rt.cfg.ArchivePath())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	pulses, err := archive.Recent(store.PulseAutonomy, n)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	for _, p := range pulses {
		fmt.Printf("%s  %s\n", p.TS, p.Payload)
	}
	return nil
}
