package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pthm/cidl/internal/cli"
	"github.com/pthm/cidl/internal/logger"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	log        = zerolog.Nop()

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "cidl",
	Short: "Schema compiler, migration engine and object materializer",
	Long: `cidl - schema compiler core

cidl validates CIDL documents, evolves relational schemas through numbered,
content-hashed migrations for SQLite (Cloudflare D1) and PostgreSQL, and
materializes data source views into nested objects.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		log = logger.New(logger.Config{
			Level:  logLevel(cfg.Log.Level),
			Format: cfg.Log.Format,
			Output: os.Stderr,
		})
		log.Debug().Str("config", configPath).Msg("configuration loaded")
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupSchema  = "schema"
	groupData    = "data"
	groupUtility = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover cidl.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupData, Title: "Data:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	validateCmd.GroupID = groupSchema
	migrateCmd.GroupID = groupSchema
	statusCmd.GroupID = groupSchema
	doctorCmd.GroupID = groupSchema
	rootCmd.AddCommand(validateCmd, migrateCmd, statusCmd, doctorCmd)

	queryCmd.GroupID = groupData
	serveCmd.GroupID = groupData
	rootCmd.AddCommand(queryCmd, serveCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd, versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// logLevel applies -v and -q on top of the configured level.
func logLevel(configured string) string {
	switch {
	case quiet:
		return "error"
	case verbose >= 2:
		return "trace"
	case verbose == 1:
		return "debug"
	}
	return configured
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
