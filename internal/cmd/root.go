// Package cmd implements the runboard command line.
package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/runboard/internal/config"
)

// NewRootCmd builds the runboard command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runboard",
		Short: "File-coordinated task board for agent runs",
		Long: `Runboard coordinates independent agent processes working on a
DAG of tasks through a shared directory tree. Tasks are claimed under
time-bounded leases, files are guarded by read/write path locks, and each
run moves through a session state machine from planning to a decision.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/runboard/config.yaml)")
	root.PersistentFlags().String("root", "", "store root directory (default is ./.runboard)")
	root.PersistentFlags().Bool("json", false, "print machine-readable JSON")

	root.AddCommand(
		newSessionCmd(),
		newTaskCmd(),
		newLockCmd(),
		newMessagesCmd(),
		newArtifactCmd(),
		newSweepCmd(),
		newWatchCmd(),
		newLogsCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig(cmd *cobra.Command, args []string) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RUNBOARD")
	// Replace dots with underscores for nested keys in env vars
	// e.g., RUNBOARD_LEASE_MAX_RETRIES for lease.max_retries
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if f := cmd.Flags().Lookup("root"); f != nil && f.Changed {
		viper.Set("store.root", f.Value.String())
	}

	// A missing default config file is fine; a missing explicit one is not.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			if cfgFile == "" && os.IsNotExist(err) {
				return nil
			}
			return err
		}
	}
	return nil
}
