package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/engine"
)

var recallLimit int

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Rank and print the top memory records",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		st := rt.store.Load()
		healed, _, _ := engine.Heal(st.RawRecords(), VersionString())
		st.SetRecords(healed)

		recalled := engine.Recall(st.Records, st.Signals.RecentAffect, recallLimit)
		rt.audit.Session("recall", audit.Event{"count": len(recalled)})

		for _, r := range recalled {
			tags := ""
			if len(r.Tags) > 0 {
				tags = " [" + strings.Join(r.Tags, ", ") + "]"
			}
			fmt.Printf("%s  score=%.2f penalty=%.2f health=%s%s\n  %s\n",
				r.ID, r.Score, r.Penalty, r.Health, tags, r.Content)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 5, "number of records to recall")
}
