// ABOUTME: Verify command that compares the Milvus mirror against Weaviate
// ABOUTME: Reports missing and stale records per tenant
package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/constella-app/vecbridge/internal/models"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var (
		tenant string
		since  int64
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the Milvus mirror against Weaviate",
		Long: `Walk a tenant's records in Weaviate and check each one exists in
Milvus with a matching lastModified. Reads the mirror directly, so it
works before the cutover flag is enabled.

Examples:
  vecbridge verify --tenant user123
  vecbridge verify --tenant user123 --since 1735689600000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			primary, err := newPrimary(ctx, cfg, nil)
			if err != nil {
				return err
			}
			secondary, err := newSecondary(ctx, cfg, true)
			if err != nil {
				return err
			}

			checked, missing, stale := 0, []string{}, []string{}
			offset := 0
			for {
				page, err := primary.SyncByLastModified(ctx, tenant, since, "", cfg.SyncPageSize, offset)
				if err != nil {
					return fmt.Errorf("failed to page primary: %w", err)
				}
				if len(page.Records) == 0 {
					break
				}

				ids := make([]string, 0, len(page.Records))
				byID := make(map[string]*models.Record, len(page.Records))
				for _, rec := range page.Records {
					ids = append(ids, rec.UniqueID)
					byID[rec.UniqueID] = rec
				}

				mirrored, err := secondary.GetByIDs(ctx, tenant, ids)
				if err != nil {
					return fmt.Errorf("failed to read mirror: %w", err)
				}
				found := make(map[string]*models.Record, len(mirrored))
				for _, rec := range mirrored {
					found[rec.UniqueID] = rec
				}

				for _, id := range ids {
					checked++
					mirror, ok := found[id]
					if !ok {
						missing = append(missing, id)
						continue
					}
					if mirror.LastModified != byID[id].LastModified {
						stale = append(stale, id)
					}
				}

				if len(page.Records) < cfg.SyncPageSize {
					break
				}
				offset += len(page.Records)
			}

			if outputFormat == "json" {
				data, _ := json.MarshalIndent(map[string]any{
					"tenant": tenant, "checked": checked,
					"missing": missing, "stale": stale,
				}, "", "  ")
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Checked: %d\n", checked)
				fmt.Fprintf(cmd.OutOrStdout(), "Missing: %d\n", len(missing))
				fmt.Fprintf(cmd.OutOrStdout(), "Stale:   %d\n", len(stale))
				for _, id := range missing {
					fmt.Fprintf(cmd.OutOrStdout(), "  missing %s\n", id)
				}
				for _, id := range stale {
					fmt.Fprintf(cmd.OutOrStdout(), "  stale %s\n", id)
				}
			}

			if len(missing)+len(stale) > 0 {
				return fmt.Errorf("mirror diverged: %d missing, %d stale", len(missing), len(stale))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to verify")
	cmd.Flags().Int64Var(&since, "since", 0, "Only verify records modified after this watermark (unix milliseconds)")

	return cmd
}
