package memorycmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
)

const pinLongDesc string = `Pin a memory fact.

Pinned facts always survive selection, compaction, expiry, and eviction.
At most ten facts can be pinned at once.

Examples:
  recall memory pin 4fa2c1d8`

const pinShortDesc string = "Pin a memory fact"

func newPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin <id>",
		Short: pinShortDesc,
		Long:  pinLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPin(cmd, args[0])
		},
	}

	return cmd
}

func runPin(cmd *cobra.Command, id string) error {
	log := logger.NewPretty(false)

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := engine.Pin(cmd.Context(), id); err != nil {
		var limit memory.PinLimitError
		if errors.As(err, &limit) {
			return fmt.Errorf("%w; unpin another fact first", limit)
		}
		return fmt.Errorf("pinning fact: %w", err)
	}

	log.Info("fact pinned", "id", id)
	return nil
}
