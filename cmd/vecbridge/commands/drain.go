// ABOUTME: Drain command that replays queued mirror operations against Milvus
// ABOUTME: Runs the processor loop, or a single pass with --once
package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/constella-app/vecbridge/internal/queue"
	"github.com/constella-app/vecbridge/internal/storage/sqlite"
)

// NewDrainCmd creates the drain command
func NewDrainCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued secondary-store writes",
		Long: `Drain the durable retry queue against Milvus.

By default this runs until interrupted, claiming due tasks on an
interval. Tasks for the same record replay in submission order; distinct
records drain concurrently.

Examples:
  vecbridge drain
  vecbridge drain --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := openQueueDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			secondary, err := newSecondary(ctx, cfg, false)
			if err != nil {
				return err
			}

			proc := queue.NewProcessor(sqlite.NewTaskStore(db), secondary, queue.Options{
				Interval:    cfg.DrainInterval,
				BaseDelay:   cfg.BaseDelay,
				MaxDelay:    cfg.MaxDelay,
				BatchSize:   cfg.BatchSize,
				Concurrency: cfg.Concurrency,
				MaxAttempts: cfg.MaxAttempts,
			})

			if once {
				applied, err := proc.DrainOnce(ctx)
				if err != nil {
					return fmt.Errorf("drain failed: %w", err)
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Applied %d task(s)\n", applied)
				}
				return nil
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Draining every %s (Ctrl-C to stop)\n", cfg.DrainInterval)
			}
			return proc.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single drain pass and exit")

	return cmd
}
