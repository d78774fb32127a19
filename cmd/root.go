// -- cmd/root.go --
package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mmmyyc/ai-template-sub000/internal/config"
	"github.com/mmmyyc/ai-template-sub000/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// appState is filled in by the root command before any subcommand runs.
type appState struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// newRootCmd builds the command tree. Each call returns an isolated tree so
// tests never share flag state.
func newRootCmd() (*cobra.Command, *appState) {
	return newRootCmdWithProvider(NewStoreProvider())
}

func newRootCmdWithProvider(provider storeProvider) (*cobra.Command, *appState) {
	app := &appState{}

	rootCmd := &cobra.Command{
		Use:           "slide-edit",
		Short:         "slide-edit addresses and restyles elements in generated slide HTML.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This runs before any command, setting up config and logging.
			cfg, err := config.Load(viper.New(), app.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			logger, err := observability.InitializeLogger(cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			app.cfg = cfg
			app.logger = logger
			logger.Debug("Starting slide-edit", zap.String("version", Version), zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&app.cfgFile, "config", "c", "", "config file (default is ./config.yaml, then ~/.slide-edit/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newPathCmd(app),
		newResolveCmd(app),
		newExtractCmd(),
		newMergeCmd(),
		newEditCmd(app, provider),
		newHistoryCmd(app, provider),
	)
	return rootCmd, app
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd, _ := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		observability.GetLogger().Debug("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// writeJSON prints v as indented JSON on the command's output.
func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
