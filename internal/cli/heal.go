package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/engine"
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Run a single healing pass over the memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		st := rt.store.Load()
		healed, _, pulse := engine.Heal(st.RawRecords(), VersionString())
		st.SetRecords(healed)
		if err := rt.store.Save(st); err != nil {
			return fmt.Errorf("save store: %w", err)
		}
		rt.audit.Session("heal", audit.Event{"status": pulse.StatusLine()})

		fmt.Println(pulse.StatusLine())
		return nil
	},
}
