package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/permissions"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

var (
	permTypes   []string
	permPricing bool
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Print the read-only IAM policy a scanned AWS account needs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		types := make([]resource.Type, 0, len(permTypes))
		for _, t := range permTypes {
			types = append(types, resource.Type(t))
		}
		doc, err := permissions.GeneratePolicy(types, permPricing)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", doc)
		return err
	},
}

func init() {
	permissionsCmd.Flags().StringSliceVar(&permTypes, "types", nil, "limit to these resource types (default all AWS types)")
	permissionsCmd.Flags().BoolVar(&permPricing, "pricing", false, "include the Price List and Cost Explorer actions")
}
