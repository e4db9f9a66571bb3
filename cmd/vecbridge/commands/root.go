// ABOUTME: Root command wiring for the vecbridge CLI
// ABOUTME: Registers subcommands and global output flags
package commands

import (
	"github.com/spf13/cobra"
)

var (
	quiet        bool
	outputFormat string
)

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vecbridge",
		Short: "Dual-write bridge between the primary and secondary vector stores",
		Long: `vecbridge keeps a Milvus collection shadowing the authoritative
Weaviate deployment during migration.

Writes land on Weaviate first; successful writes are mirrored to Milvus,
and failed mirrors are queued durably and replayed by the drain loop.
Reconciliation closes any remaining gaps by watermark.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table or json")

	cmd.AddCommand(NewDrainCmd())
	cmd.AddCommand(NewBackfillCmd())
	cmd.AddCommand(NewQueueCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
