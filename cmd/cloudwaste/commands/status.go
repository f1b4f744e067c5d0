package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a scan job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		job, err := a.repo.GetScanJob(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("scan job %s not found", args[0])
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), job)
	},
}
