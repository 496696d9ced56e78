// Package memorycmder provides the memory command for inspecting and managing
// stored facts directly against the local database.
package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/sqlite"
)

const memoryLongDesc string = `Inspect and manage memory facts.

Facts are durable statements about the user extracted from conversations
(or added manually). They live in the local database under the .recall/
directory.

Use subcommands to work with facts:
  recall memory list               List stored facts
  recall memory add <text>         Add a fact manually
  recall memory pin <id>           Pin a fact so it always survives
  recall memory unpin <id>         Unpin a fact
  recall memory forget <id>        Delete a fact permanently`

const memoryShortDesc string = "Inspect and manage memory facts"

func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: memoryShortDesc,
		Long:  memoryLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newPinCmd())
	cmd.AddCommand(newUnpinCmd())
	cmd.AddCommand(newForgetCmd())

	return cmd
}

// openEngine opens the local database and builds a memory engine over it.
// The caller must Close the returned store. Extraction is never exercised
// from the CLI, so the provider is a no-op mock.
func openEngine(cmd *cobra.Command) (*memory.Engine, storage.Driver, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	path, err := dotdir.NewManager().DatabasePath(configDir)
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlite.NewDriver(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	engine := memory.NewEngine(store, &inference.Mock{}, zap.NewNop(), memory.DefaultConfig())
	return engine, store, nil
}
