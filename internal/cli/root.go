package cli

import (
	"github.com/spf13/cobra"

	"github.com/novamind/nova/internal/audit"
	"github.com/novamind/nova/internal/config"
	"github.com/novamind/nova/internal/integrity"
	"github.com/novamind/nova/internal/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "nova",
	Short: "Self-regulating memory engine",
	Long:  "Nova maintains a pool of memory records, heals them every cycle, ranks them through an affect model, and tunes its own tempo from observed load.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "nova.yaml", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pushCmd)
}

// runtime bundles the pieces every command needs.
type runtime struct {
	cfg   config.Config
	paths config.Paths
	guard *integrity.Guard
	store *store.Store
	audit *audit.Log
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	paths := config.Paths{DataDir: cfg.DataDir}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	guard := integrity.NewGuard(cfg.Owner)
	return &runtime{
		cfg:   cfg,
		paths: paths,
		guard: guard,
		store: store.New(paths.Memory(), VersionString(), guard),
		audit: audit.NewLog(paths.SessionLog(), paths.AuditLog(), cfg.Owner,
			cfg.History.SessionCap, cfg.History.AuditCap, guard),
	}, nil
}
