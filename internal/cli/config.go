package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alnah/corpusvad/internal/config"
)

// validConfigKeys lists all supported configuration keys.
var validConfigKeys = config.Keys()

// keyHelp describes each key in the config command help.
var keyHelp = map[string]string{
	config.KeyMergeThreshold: "Merge gaps shorter than this, seconds",
	config.KeyMinDuration:    "Minimum kept segment, seconds",
	config.KeyWorkers:        "Shards and parallel workers",
	config.KeyDevice:         "cpu, cuda or cuda:<n>",
	config.KeyDetector:       "energy or silero",
	config.KeyModelPath:      "Detector model file",
	config.KeyLogDir:         "Checkpoint directory",
	config.KeyOutputDir:      "Merged outputs and report",
}

func configHelp() string {
	var b strings.Builder
	b.WriteString(`Manage persistent configuration settings.

Configuration is stored in ~/.config/corpusvad/config.
Settings can also be provided via environment variables; command-line
flags always win.

Supported settings:`)
	for _, key := range validConfigKeys {
		fmt.Fprintf(&b, "\n  %-16s %-38s (env: %s)", key, keyHelp[key], config.EnvFor(key))
	}
	return b.String()
}

// ConfigCmd creates the config command with subcommands.
// The env parameter provides injectable dependencies for testing.
func ConfigCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  configHelp(),
		Example: `  corpusvad config set workers 8
  corpusvad config get detector
  corpusvad config list`,
	}

	cmd.AddCommand(configSetCmd(env))
	cmd.AddCommand(configGetCmd(env))
	cmd.AddCommand(configListCmd(env))

	return cmd
}

// configSetCmd creates the "config set" subcommand.
func configSetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value.

The value is validated before it is saved. Directories given for log-dir
and output-dir are created if they don't exist.`,
		Example: `  corpusvad config set output-dir ~/vad/output
  corpusvad config set merge-threshold 0.3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			return runConfigSet(env, key, value)
		},
	}
}

// configGetCmd creates the "config get" subcommand.
func configGetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value.

Prints the value to stdout, or nothing if not set.`,
		Example: `  corpusvad config get workers`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(env, args[0])
		},
	}
}

// configListCmd creates the "config list" subcommand.
func configListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Long: `List all configuration values.

Shows both values from the config file and environment variable overrides.`,
		Example: `  corpusvad config list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList(env)
		},
	}
}

// runConfigSet handles the "config set" command.
// Paths are stored expanded and names lowercased.
func runConfigSet(env *Env, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	switch key {
	case config.KeyLogDir, config.KeyOutputDir, config.KeyModelPath:
		value = config.ExpandPath(value)
	case config.KeyDevice, config.KeyDetector:
		value = strings.ToLower(value)
	}
	if err := config.Validate(key, value); err != nil {
		return err
	}
	if err := config.Save(key, value); err != nil {
		return err
	}

	fmt.Fprintf(env.Stderr, "Set %s = %s\n", key, value)
	return nil
}

// runConfigGet prints the file value, else the environment fallback.
func runConfigGet(env *Env, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	value, err := config.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		value = env.Getenv(config.EnvFor(key))
	}
	if value != "" {
		fmt.Fprintln(env.Stdout, value)
	}
	return nil
}

// runConfigList handles the "config list" command.
func runConfigList(env *Env) error {
	data, err := config.List()
	if err != nil {
		return err
	}

	// Add environment variable values for completeness.
	for _, key := range validConfigKeys {
		if _, ok := data[key]; ok {
			continue
		}
		if envVal := env.Getenv(config.EnvFor(key)); envVal != "" {
			data[key] = envVal + " (from env)"
		}
	}

	if len(data) == 0 {
		fmt.Fprintln(env.Stdout, "No configuration set.")
		fmt.Fprintln(env.Stdout, "\nAvailable settings:")
		for _, key := range validConfigKeys {
			fmt.Fprintf(env.Stdout, "  %s\n", key)
		}
		return nil
	}

	for _, key := range slices.Sorted(maps.Keys(data)) {
		fmt.Fprintf(env.Stdout, "%s=%s\n", key, data[key])
	}
	return nil
}

// isValidConfigKey checks if a key is a valid configuration key.
func isValidConfigKey(key string) bool {
	return slices.Contains(validConfigKeys, key)
}

func checkKey(key string) error {
	if isValidConfigKey(key) {
		return nil
	}
	return fmt.Errorf("%q (valid keys: %s): %w", key, strings.Join(validConfigKeys, ", "), config.ErrUnknownKey)
}
