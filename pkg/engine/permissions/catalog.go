// Package permissions builds the read-only IAM policy an AWS account must
// grant for a scan.
package permissions

import "github.com/surpriz/cloud-waste-sub010/pkg/resource"

// Catalog maps AWS resource types to the IAM actions their listing needs.
var Catalog = map[resource.Type][]string{
	resource.EBSVolume:   {"ec2:DescribeVolumes"},
	resource.ElasticIP:   {"ec2:DescribeAddresses", "cloudtrail:LookupEvents"},
	resource.EBSSnapshot: {"ec2:DescribeSnapshots"},
	resource.EC2Instance: {"ec2:DescribeInstances"},
	resource.NATGateway:  {"ec2:DescribeNatGateways"},
	resource.LoadBalancer: {
		"elasticloadbalancing:DescribeLoadBalancers",
		"elasticloadbalancing:DescribeListeners",
		"elasticloadbalancing:DescribeTargetGroups",
		"elasticloadbalancing:DescribeTargetHealth",
	},
	resource.RDSInstance: {"rds:DescribeDBInstances"},
}

// CorePermissions are needed by every scan: identity validation and the
// utilization metrics probe.
func CorePermissions() []string {
	return []string{
		"sts:GetCallerIdentity",
		"cloudwatch:GetMetricStatistics",
	}
}

// PricingPermissions are needed by the account running `pricing refresh`.
func PricingPermissions() []string {
	return []string{
		"pricing:GetProducts",
		"ce:GetCostAndUsage",
	}
}
