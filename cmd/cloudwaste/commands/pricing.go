package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Manage the pricing cache",
}

var pricingRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch current unit prices and save the snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if a.snapshots == nil {
			a.logger.Warn("No pricing.snapshot_url configured; refreshed prices will not be kept")
		}
		res, err := a.refresher().RefreshAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated=%d skipped=%d failed=%d\n",
			okStyle.Render("pricing refreshed"), res.Updated, res.Skipped, res.Failed)
		return nil
	},
}

var pricingCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify every resource type can be priced without the pricing API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// newApp runs the self-check and fails on a gap.
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		fmt.Fprintf(cmd.OutOrStdout(), "%s %d resource types, %d cached prices\n",
			okStyle.Render("pricing ok"), len(resource.All()), len(a.cache.Entries()))
		return nil
	},
}

func init() {
	pricingCmd.AddCommand(pricingRefreshCmd, pricingCheckCmd)
}
