// Command formsync drives the form engine from a terminal: it can run the
// reference backend, edit a form file with draft autosave, follow a form's
// analytics live, inspect the local draft and check form definitions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/config"
	"github.com/matthewbaird/formsync/internal/logging"
)

var (
	configFile string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "formsync",
	Short: "Form builder engine with live analytics",
	Long: `formsync edits form definitions, keeps a crash-recovery draft and follows
a form's analytics over a websocket with a polling fallback.

Settings come from defaults, then --config (CUE), then --env-file, then
FORMSYNC_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Sources{File: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "CUE config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd, watchCmd, editCmd, draftCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
