package main

import (
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/EmpoweredVote/EV-Reforms/internal/config"
	"github.com/EmpoweredVote/EV-Reforms/internal/db"
	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

type app struct {
	configFile string
	logLevel   string

	cfg *config.Config
	db  *gorm.DB
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reformctl",
		Short: "Reconcile zoning and land-use reforms into the reforms database",
		Long: `reformctl loads reform tracker exports into PostgreSQL, merging
records that describe the same reform and keeping provenance for every source.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is ./reformctl.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		a.migrateCommand(),
		a.seedCommand(),
		a.ingestCommand(),
		a.enrichCommand(),
		a.mergeCommand(),
		a.geocodeCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// store opens the database on first use.
func (a *app) store() (reforms.Store, error) {
	if a.db == nil {
		d, err := db.Open(a.cfg)
		if err != nil {
			return nil, err
		}
		a.db = d
	}
	return reforms.NewPGStore(a.db), nil
}

func (a *app) close() {
	if a.db != nil {
		if err := db.Close(a.db); err != nil {
			logging.Default().Warn().Err(err).Msg("close database")
		}
	}
}
