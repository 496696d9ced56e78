package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
)

const addLongDesc string = `Add a memory fact manually.

Manually added facts start at full confidence and follow the same merge
rules as extracted facts: adding an exact duplicate boosts the existing
fact instead of creating a new one.

Examples:
  recall memory add "prefers dark mode" --category preference
  recall memory add "works on the atlas project" --category project`

const addShortDesc string = "Add a memory fact manually"

func newAddCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: addShortDesc,
		Long:  addLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], category)
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", string(memory.CategoryPreference),
		"Fact category (identity, preference, project)")

	return cmd
}

func runAdd(cmd *cobra.Command, text, category string) error {
	log := logger.NewPretty(false)

	cat := memory.Category(category)
	if !cat.Valid() {
		return fmt.Errorf("invalid category: %q (valid: identity, preference, project)", category)
	}

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	fact, err := engine.Add(cmd.Context(), "", text, cat)
	if err != nil {
		return fmt.Errorf("adding fact: %w", err)
	}

	// Writes trigger the same expiry and eviction sweep the server runs.
	if removed, err := engine.Maintain(cmd.Context()); err != nil {
		log.Warn("maintenance sweep failed", "err", err)
	} else if removed > 0 {
		log.Info("maintenance removed facts", "removed", removed)
	}

	log.Info("fact stored", "id", fact.ID, "category", fact.Category, "mentions", fact.MentionCount)
	return nil
}
