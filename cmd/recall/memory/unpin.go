package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/logger"
)

const unpinShortDesc string = "Unpin a memory fact"

func newUnpinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpin <id>",
		Short: unpinShortDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnpin(cmd, args[0])
		},
	}

	return cmd
}

func runUnpin(cmd *cobra.Command, id string) error {
	log := logger.NewPretty(false)

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := engine.Unpin(cmd.Context(), id); err != nil {
		return fmt.Errorf("unpinning fact: %w", err)
	}

	log.Info("fact unpinned", "id", id)
	return nil
}
