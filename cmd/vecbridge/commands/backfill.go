// ABOUTME: Backfill command that reconciles tenants from Weaviate into Milvus
// ABOUTME: Pages by lastModified watermark with durable per-tenant checkpoints
package commands

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/constella-app/vecbridge/internal/embed"
	"github.com/constella-app/vecbridge/internal/storage/sqlite"
	"github.com/constella-app/vecbridge/internal/syncer"
)

// NewBackfillCmd creates the backfill command
func NewBackfillCmd() *cobra.Command {
	var (
		tenant   string
		deviceID string
		since    int64
		resume   bool
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Copy changed records from Weaviate into Milvus",
		Long: `Reconcile the Milvus mirror from the authoritative Weaviate store.

With --tenant and no other flags the whole tenant is copied from the
beginning of time. --resume continues from the stored checkpoint, and
--since overrides the watermark (unix milliseconds). --all walks every
tenant that has a checkpoint.

Examples:
  vecbridge backfill --tenant user123
  vecbridge backfill --tenant user123 --resume
  vecbridge backfill --tenant user123 --since 1735689600000
  vecbridge backfill --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && tenant == "" {
				return fmt.Errorf("either --tenant or --all is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openQueueDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			primary, err := newPrimary(ctx, cfg, db)
			if err != nil {
				return err
			}
			secondary, err := newSecondary(ctx, cfg, false)
			if err != nil {
				return err
			}

			engine := syncer.New(primary, secondary, sqlite.NewCheckpointStore(db), cfg.SyncPageSize)
			if cfg.OpenAIKey != "" {
				embedCfg := embed.DefaultConfig(cfg.OpenAIKey)
				embedCfg.Dimensions = cfg.VectorDimension
				if cfg.EmbeddingModel != "" {
					embedCfg.Model = openai.EmbeddingModel(cfg.EmbeddingModel)
				}
				embedder, err := embed.NewOpenAIClientWithConfig(embedCfg)
				if err != nil {
					return err
				}
				engine.Embedder = embedder
			}

			var reports []*syncer.Report
			if all {
				reports, err = engine.SyncAll(ctx, deviceID)
				if err != nil {
					return fmt.Errorf("backfill failed: %w", err)
				}
			} else {
				watermark := since
				if resume {
					watermark = -1
				}
				report, err := engine.SyncTenant(ctx, tenant, watermark, deviceID)
				if err != nil {
					return fmt.Errorf("backfill failed: %w", err)
				}
				reports = []*syncer.Report{report}
			}

			return printReports(cmd, reports)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to reconcile")
	cmd.Flags().StringVar(&deviceID, "device", "", "Skip records last written by this device")
	cmd.Flags().Int64Var(&since, "since", 0, "Watermark to start from (unix milliseconds)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the stored checkpoint")
	cmd.Flags().BoolVar(&all, "all", false, "Reconcile every checkpointed tenant")

	return cmd
}

func printReports(cmd *cobra.Command, reports []*syncer.Report) error {
	if outputFormat == "json" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
		return nil
	}

	failed := 0
	for _, r := range reports {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned %d, upserted %d, deleted %d, failures %d (watermark %d)\n",
			r.Tenant, r.Scanned, r.Upserted, r.Deleted, len(r.Failures), r.Watermark)
		for _, f := range r.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "  failed %s: %v\n", f.UniqueID, f.Err)
		}
		failed += len(r.Failures)
	}
	if failed > 0 {
		return fmt.Errorf("%d record(s) failed to reconcile", failed)
	}
	return nil
}
