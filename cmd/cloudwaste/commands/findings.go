package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/report"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var (
	findingsAccount string
	findingsFormat  string
	findingsOutput  string
	findingsStatus  string
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List orphaned resources found for an account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		all, err := a.repo.ListFindings(cmd.Context(), findingsAccount)
		if err != nil {
			return err
		}
		findings := make([]store.Finding, 0, len(all))
		for _, f := range all {
			if findingsStatus == "" || string(f.Status) == findingsStatus {
				findings = append(findings, f)
			}
		}
		out := cmd.OutOrStdout()
		if findingsOutput != "" {
			f, err := os.Create(findingsOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		switch findingsFormat {
		case "table":
			_, err = fmt.Fprintln(out, renderFindings(findings))
		case "csv":
			err = report.WriteCSV(out, findings)
		case "json":
			err = report.WriteJSON(out, findings)
		default:
			err = fmt.Errorf("unknown format %q", findingsFormat)
		}
		return err
	},
}

var markCmd = &cobra.Command{
	Use:   "mark <resource-type> <resource-id> <active|ignored|marked_for_deletion>",
	Short: "Change the status of a finding",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := store.Status(args[2])
		if !status.Valid() {
			return fmt.Errorf("invalid status %q", args[2])
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		key := resource.FindingKey{AccountID: findingsAccount, Type: resource.Type(args[0]), ProviderID: args[1]}
		if err := a.repo.SetFindingStatus(cmd.Context(), key, status, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark %s: %w", key, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render(string(status)), key)
		return nil
	},
}

func init() {
	findingsCmd.PersistentFlags().StringVar(&findingsAccount, "account", "", "account id")
	_ = findingsCmd.MarkPersistentFlagRequired("account")
	findingsCmd.Flags().StringVar(&findingsFormat, "format", "table", "output format: table, csv or json")
	findingsCmd.Flags().StringVarP(&findingsOutput, "output", "o", "", "write to a file instead of stdout")
	findingsCmd.Flags().StringVar(&findingsStatus, "status", "", "only show findings with this status")
	findingsCmd.AddCommand(markCmd)
}
