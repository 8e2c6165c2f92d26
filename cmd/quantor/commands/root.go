package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	serverCmd "github.com/quantor/quantor/cmd/quantor/commands/server"
	"github.com/quantor/quantor/pkg/cli"
	"github.com/quantor/quantor/pkg/config"
)

const cliExecutable = "quantor"

// NewCommand constructs the top-level quantor CLI command, wiring global
// flags, configuration loading and log verbosity.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		verbosityCount int
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Quantor coordinates long-running stock analysis jobs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			manager := config.NewManager()
			if err := manager.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			// Configure global log level based on verbosity flags
			// If explicit --verbose is set, show debug and above
			// Else use -v count: 0=>configured level, 1=>Info, 2+=>Debug
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				switch {
				case verbosityCount == 1:
					zerolog.SetGlobalLevel(zerolog.InfoLevel)
				case verbosityCount >= 2:
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				default:
					level, err := zerolog.ParseLevel(manager.Get().Log.Level)
					if err != nil {
						level = zerolog.InfoLevel
					}
					zerolog.SetGlobalLevel(level)
				}
			}

			ctx := config.WithManager(cmd.Context(), manager)
			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (shows service layer logs)")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "jobs", Title: "Job Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(serverCmd.NewCommand())
	cmd.AddCommand(cli.NewVersionCommand(cliExecutable))
	cmd.AddCommand(RunCmd)

	return cmd
}
