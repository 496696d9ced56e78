package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/utils"
)

const listLongDesc string = `List stored memory facts, newest first.

Shows each fact's id, category, confidence, pin marker, and text.

Examples:
  recall memory list`

const listShortDesc string = "List stored memory facts"

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command) error {
	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	facts, err := engine.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing facts: %w", err)
	}

	if len(facts) == 0 {
		fmt.Println("No facts stored.")
		return nil
	}

	for _, fact := range facts {
		pin := " "
		if fact.Pinned {
			pin = "*"
		}
		fmt.Printf("%s %s  %-10s  %.2f  %s\n",
			pin,
			fact.ID,
			fact.Category,
			fact.Confidence,
			utils.Truncate(fact.Text, 70),
		)
	}

	fmt.Printf("\n%d fact(s)\n", len(facts))
	return nil
}
