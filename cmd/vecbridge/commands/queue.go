// ABOUTME: Queue commands for inspecting and managing the retry queue
// ABOUTME: Provides status, dead-letter listing, and manual requeue
package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/constella-app/vecbridge/internal/storage/sqlite"
)

// NewQueueCmd creates the queue command group
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the retry queue",
		Long: `Inspect the durable retry queue backing the dual-write mirror.

Failed secondary writes wait here until the drain loop replays them.
Tasks that exhaust their attempts are dead-lettered and kept for manual
review.`,
	}

	cmd.AddCommand(newQueueStatusCmd())
	cmd.AddCommand(newQueueDeadLettersCmd())
	cmd.AddCommand(newQueueRequeueCmd())

	return cmd
}

func newQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by state",
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

			pending, inflight, dead, err := sqlite.NewTaskStore(db).Depth()
			if err != nil {
				return fmt.Errorf("failed to read queue depth: %w", err)
			}

			if outputFormat == "json" {
				data, _ := json.MarshalIndent(map[string]int{
					"pending": pending, "inflight": inflight, "dead": dead,
				}, "", "  ")
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pending:  %d\n", pending)
			fmt.Fprintf(cmd.OutOrStdout(), "Inflight: %d\n", inflight)
			fmt.Fprintf(cmd.OutOrStdout(), "Dead:     %d\n", dead)
			return nil
		},
	}
}

func newQueueDeadLettersCmd() *cobra.Command {
	var (
		tenant string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List dead-lettered tasks",
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

			letters, err := sqlite.NewTaskStore(db).DeadLetters(tenant, limit)
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}

			if outputFormat == "json" {
				data, err := json.MarshalIndent(letters, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
				return nil
			}

			if len(letters) == 0 {
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "No dead letters\n")
				}
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tTENANT\tKEY\tKIND\tATTEMPTS\tCREATED\tLAST ERROR\n")
			for _, task := range letters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					task.ID, task.TenantName, task.RecordKey, task.Kind,
					task.Attempts, task.CreatedAt.Format(time.RFC3339),
					truncate(task.LastError, 60))
			}
			w.Flush()

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d dead letter(s)\n", len(letters))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Filter by tenant")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum dead letters to list")

	return cmd
}

func newQueueRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <task-id>",
		Short: "Return a dead-lettered task to the queue",
		Args:  cobra.ExactArgs(1),
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

			if err := sqlite.NewTaskStore(db).Requeue(args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", args[0])
			}
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
