package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/runboard/internal/config"
)

// configKeys lists the settable keys and their value kinds.
var configKeys = map[string]string{
	"store.root":                 "string",
	"lease.default_duration_ms":  "int",
	"lease.max_retries":          "int",
	"lock.default_duration_ms":   "int",
	"session.default_max_turns":  "int",
	"session.default_timeout_ms": "int",
	"logging.enabled":            "bool",
	"logging.level":              "string",
	"logging.max_size_mb":        "int",
	"logging.max_backups":        "int",
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify runboard configuration",
		Long: `View or modify runboard configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  runboard config set lease.max_retries 5
  runboard config set logging.level debug

Valid keys:
  store.root                  - Shared directory holding runs/ (default ./.runboard)
  lease.default_duration_ms   - Task lease length when claim gives none
  lease.max_retries           - Attempts before an expired lease fails the task
  lock.default_duration_ms    - Path lock lifetime when acquire gives none
  session.default_max_turns   - Max turns for new runs
  session.default_timeout_ms  - Timeout for new runs
  logging.enabled             - Write debug.log in each run directory (true/false)
  logging.level               - Minimum log level: debug, info, warn, error
  logging.max_size_mb         - Rotate debug.log past this size (0 disables)
  logging.max_backups         - Rotated debug.log files to keep`,
			Args: cobra.ExactArgs(2),
			RunE: runConfigSet,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/runboard/config.yaml with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE:  runConfigPath,
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		a := &app{out: out, json: true}
		return a.emit(cfg, nil)
	}

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "store:")
	fmt.Fprintf(out, "  root: %s\n", orDash(cfg.Store.Root))

	fmt.Fprintln(out, "lease:")
	fmt.Fprintf(out, "  default_duration_ms: %d\n", cfg.Lease.DefaultDurationMs)
	fmt.Fprintf(out, "  max_retries: %d\n", cfg.Lease.MaxRetries)

	fmt.Fprintln(out, "lock:")
	fmt.Fprintf(out, "  default_duration_ms: %d\n", cfg.Lock.DefaultDurationMs)

	fmt.Fprintln(out, "session:")
	fmt.Fprintf(out, "  default_max_turns: %d\n", cfg.Session.DefaultMaxTurns)
	fmt.Fprintf(out, "  default_timeout_ms: %d\n", cfg.Session.DefaultTimeoutMs)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Fprintf(out, "  max_backups: %d\n", cfg.Logging.MaxBackups)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'runboard config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		if key == "logging.level" && !isValidLogLevel(value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)

	return nil
}

func isValidLogLevel(level string) bool {
	for _, l := range config.ValidLogLevels() {
		if l == level {
			return true
		}
	}
	return false
}

const defaultConfigContent = `# Runboard Configuration

# Where run directories live. Relative paths resolve against the working
# directory. Empty means ./.runboard
store:
  root: ""

# Task leases
lease:
  # Lease length when a claim does not give one (5 minutes)
  default_duration_ms: 300000
  # An expired lease on this attempt fails the task instead of retrying
  max_retries: 3

# Path locks
lock:
  # Lock lifetime when acquire does not give one (2 minutes)
  default_duration_ms: 120000

# Defaults for new runs
session:
  default_max_turns: 20
  # 1 hour
  default_timeout_ms: 3600000

# Debug logging to runs/<run_id>/debug.log
logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  # Rotate debug.log past this size in megabytes (0 disables)
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'runboard config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize runboard's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nEnvironment variables: RUNBOARD_* (e.g., RUNBOARD_LEASE_MAX_RETRIES)")

	return nil
}
