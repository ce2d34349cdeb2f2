package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pushTags []string

var pushCmd = &cobra.Command{
	Use:   "push <content>",
	Short: "Queue a new memory record through the command inbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return fmt.Errorf("content must be non-empty")
		}
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		doc := map[string]any{
			"owner": rt.cfg.Owner,
			"push_memory": map[string]any{
				"content": args[0],
				"tags":    pushTags,
			},
			"clear_commands": true,
		}
		if err := rt.guard.WriteAndSeal(rt.paths.Commands(), doc); err != nil {
			return fmt.Errorf("write commands: %w", err)
		}
		fmt.Println("queued; the engine ingests it at the next cycle")
		return nil
	},
}

func init() {
	pushCmd.Flags().StringSliceVar(&pushTags, "tag", nil, "tag to attach (repeatable)")
}
