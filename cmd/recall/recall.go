// Package recallcmder
package recallcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/recall/cmd/recall/config"
	memorycmder "github.com/papercomputeco/recall/cmd/recall/memory"
	servecmder "github.com/papercomputeco/recall/cmd/recall/serve"
	versioncmder "github.com/papercomputeco/recall/cmd/version"
)

const recallLongDesc string = `Recall is local-first conversation state with durable memory.

Run the server using:
  recall serve         Run the API server

Inspect and manage memory facts:
  recall memory list   List stored facts
  recall memory pin    Pin a fact so it always survives`

const recallShortDesc string = "Recall - Conversation State & Memory"

func NewRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: recallShortDesc,
		Long:  recallLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .recall/ directory location")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(memorycmder.NewMemoryCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
