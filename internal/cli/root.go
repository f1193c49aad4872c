// Package cli provides the command-line interface for the backtester.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"optionslab/internal/config"
	"optionslab/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App carries the loaded configuration and base logger into every
// command.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd builds the root command and attaches the command tree.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{Config: cfg, Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "optionslab",
		Short: "Options strategy backtester over historical chain data",
		Long: `optionslab replays options strategies day by day against a historical
options-chain sqlite database. Each run writes its trades and leg audit
trail into run-scoped tables and records itself in a shared ledger.

Use 'optionslab help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/optionslab)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addBacktestCommands(rootCmd, app)
	addReportCommands(rootCmd, app)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("optionslab v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}
