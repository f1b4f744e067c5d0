package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

func (a *Adapter) listLoadBalancers(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := elb.NewDescribeLoadBalancersPaginator(c.ELB, &elb.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeLoadBalancers", err)
		}
		for _, lb := range page.LoadBalancers {
			arn := aws.ToString(lb.LoadBalancerArn)
			cand := candidate(resource.LoadBalancer, arn, region)
			cand.Name = aws.ToString(lb.LoadBalancerName)
			cand.CreatedAt = aws.ToTime(lb.CreatedTime)
			cand.SetAttr(resource.AttrLBType, string(lb.Type))
			if lb.State != nil {
				cand.SetAttr(resource.AttrState, string(lb.State.Code))
			}
			cand.SetAttr(resource.AttrMetricDimension, lbDimension(arn))

			listeners, err := a.countListeners(ctx, c, arn)
			if err != nil {
				return nil, err
			}
			cand.SetAttr(resource.AttrListenerCount, float64(listeners))

			groups, healthy, err := a.countHealthyTargets(ctx, c, arn)
			if err != nil {
				return nil, err
			}
			cand.SetAttr(resource.AttrTargetGroups, float64(groups))
			cand.SetAttr(resource.AttrHealthyTargets, float64(healthy))

			out = append(out, cand)
		}
	}
	return out, nil
}

func (a *Adapter) countListeners(ctx context.Context, c *Clients, arn string) (int, error) {
	n := 0
	paginator := elb.NewDescribeListenersPaginator(c.ELB, &elb.DescribeListenersInput{LoadBalancerArn: aws.String(arn)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, classify("DescribeListeners", err)
		}
		n += len(page.Listeners)
	}
	return n, nil
}

func (a *Adapter) countHealthyTargets(ctx context.Context, c *Clients, arn string) (int, int, error) {
	groups, healthy := 0, 0
	paginator := elb.NewDescribeTargetGroupsPaginator(c.ELB, &elb.DescribeTargetGroupsInput{LoadBalancerArn: aws.String(arn)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, 0, classify("DescribeTargetGroups", err)
		}
		for _, tg := range page.TargetGroups {
			groups++
			th, err := c.ELB.DescribeTargetHealth(ctx, &elb.DescribeTargetHealthInput{TargetGroupArn: tg.TargetGroupArn})
			if err != nil {
				return 0, 0, classify("DescribeTargetHealth", err)
			}
			for _, d := range th.TargetHealthDescriptions {
				if d.TargetHealth != nil && d.TargetHealth.State == elbtypes.TargetHealthStateEnumHealthy {
					healthy++
				}
			}
		}
	}
	return groups, healthy, nil
}

// lbDimension extracts "app/name/id" from a load balancer ARN.
func lbDimension(arn string) string {
	const marker = ":loadbalancer/"
	if i := strings.Index(arn, marker); i >= 0 {
		return arn[i+len(marker):]
	}
	return ""
}

func (a *Adapter) listDBInstances(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := rds.NewDescribeDBInstancesPaginator(c.RDS, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeDBInstances", err)
		}
		for _, db := range page.DBInstances {
			cand := candidate(resource.RDSInstance, aws.ToString(db.DBInstanceIdentifier), region)
			cand.Name = aws.ToString(db.DBInstanceIdentifier)
			cand.CreatedAt = aws.ToTime(db.InstanceCreateTime)
			for _, t := range db.TagList {
				if t.Key != nil {
					cand.Tags[*t.Key] = aws.ToString(t.Value)
				}
			}
			cand.SetAttr(resource.AttrState, aws.ToString(db.DBInstanceStatus))
			cand.SetAttr(resource.AttrDBClass, aws.ToString(db.DBInstanceClass))
			cand.SetAttr(resource.AttrDBEngine, aws.ToString(db.Engine))
			cand.SetAttr(resource.AttrSizeGB, float64(aws.ToInt32(db.AllocatedStorage)))
			out = append(out, cand)
		}
	}
	return out, nil
}
