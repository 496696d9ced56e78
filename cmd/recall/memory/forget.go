package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/logger"
)

const forgetLongDesc string = `Delete a memory fact permanently.

Forgetting removes the fact from the database. Pinned facts must be
unpinned first only if you want them to survive automatic cleanup;
forget removes them regardless.

Examples:
  recall memory forget 4fa2c1d8`

const forgetShortDesc string = "Delete a memory fact permanently"

func newForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <id>",
		Short: forgetShortDesc,
		Long:  forgetLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(cmd, args[0])
		},
	}

	return cmd
}

func runForget(cmd *cobra.Command, id string) error {
	log := logger.NewPretty(false)

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := engine.Forget(cmd.Context(), id); err != nil {
		return fmt.Errorf("forgetting fact: %w", err)
	}

	log.Info("fact forgotten", "id", id)
	return nil
}
