// Package configcmder provides the config command for managing persistent
// recall configuration stored in the .recall/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent recall configuration.

Configuration is stored as config.toml in the .recall/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  api.listen,
  inference.provider, inference.target, inference.model, inference.extract_model,
  memory.enabled, memory.context_window, memory.prune_threshold, memory.hard_cap,
  model.default

Use subcommands to get, set, or list configuration values:
  recall config set <key> <value>    Set a configuration value
  recall config get <key>            Get a configuration value
  recall config list                 List all configuration values

Examples:
  recall config set inference.model llama3.2
  recall config set storage.driver postgres
  recall config get api.listen
  recall config list`

const configShortDesc string = "Manage persistent recall configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
