package aws

import (
	"context"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

func (a *Adapter) listVolumes(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := ec2.NewDescribeVolumesPaginator(c.EC2, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeVolumes", err)
		}
		for _, v := range page.Volumes {
			cand := candidate(resource.EBSVolume, aws.ToString(v.VolumeId), region)
			cand.CreatedAt = aws.ToTime(v.CreateTime)
			cand.Tags = parseTags(v.Tags)
			cand.Name = cand.Tags["Name"]
			cand.SetAttr(resource.AttrSizeGB, float64(aws.ToInt32(v.Size)))
			cand.SetAttr(resource.AttrVolumeType, string(v.VolumeType))
			cand.SetAttr(resource.AttrState, string(v.State))

			attached := v.State == types.VolumeStateInUse
			for _, att := range v.Attachments {
				if att.InstanceId != nil {
					attached = true
					cand.SetAttr(resource.AttrAttachedInstance, aws.ToString(att.InstanceId))
				}
			}
			cand.SetAttr(resource.AttrAttached, attached)
			out = append(out, cand)
		}
	}
	return out, nil
}

func (a *Adapter) listAddresses(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	resp, err := c.EC2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, classify("DescribeAddresses", err)
	}

	var out []resource.Candidate
	for _, addr := range resp.Addresses {
		id := aws.ToString(addr.AllocationId)
		if id == "" {
			id = aws.ToString(addr.PublicIp)
		}
		cand := candidate(resource.ElasticIP, id, region)
		cand.Tags = parseTags(addr.Tags)
		cand.Name = cand.Tags["Name"]
		cand.SetAttr(resource.AttrPublicIP, aws.ToString(addr.PublicIp))

		associated := addr.AssociationId != nil || addr.InstanceId != nil || addr.NetworkInterfaceId != nil
		cand.SetAttr(resource.AttrAssociated, associated)
		if !associated {
			// EC2 does not expose allocation time; resolve it from the audit trail.
			a.resolveAllocationTime(ctx, c, &cand)
		}
		out = append(out, cand)
	}
	return out, nil
}

func (a *Adapter) listSnapshots(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	volumes, err := a.volumeIndex(ctx, c)
	if err != nil {
		return nil, err
	}

	var out []resource.Candidate
	paginator := ec2.NewDescribeSnapshotsPaginator(c.EC2, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeSnapshots", err)
		}
		for _, s := range page.Snapshots {
			cand := candidate(resource.EBSSnapshot, aws.ToString(s.SnapshotId), region)
			cand.CreatedAt = aws.ToTime(s.StartTime)
			cand.Tags = parseTags(s.Tags)
			cand.Name = cand.Tags["Name"]
			src := aws.ToString(s.VolumeId)
			_, exists := volumes[src]
			cand.SetAttr(resource.AttrSourceVolume, src)
			cand.SetAttr(resource.AttrSourceVolumeExists, exists)
			cand.SetAttr(resource.AttrSizeGB, float64(aws.ToInt32(s.VolumeSize)))
			cand.SetAttr(resource.AttrState, string(s.State))
			out = append(out, cand)
		}
	}
	return out, nil
}

func (a *Adapter) listInstances(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	volumes, err := a.volumeIndex(ctx, c)
	if err != nil {
		return nil, err
	}
	storage := make(map[string]float64)
	for _, v := range volumes {
		for _, att := range v.Attachments {
			storage[aws.ToString(att.InstanceId)] += float64(aws.ToInt32(v.Size))
		}
	}

	var out []resource.Candidate
	paginator := ec2.NewDescribeInstancesPaginator(c.EC2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeInstances", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				state := ""
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				if state == string(types.InstanceStateNameTerminated) || state == string(types.InstanceStateNameShuttingDown) {
					continue
				}
				id := aws.ToString(inst.InstanceId)
				cand := candidate(resource.EC2Instance, id, region)
				cand.CreatedAt = aws.ToTime(inst.LaunchTime)
				cand.Tags = parseTags(inst.Tags)
				cand.Name = cand.Tags["Name"]
				cand.SetAttr(resource.AttrState, state)
				cand.SetAttr(resource.AttrInstanceType, string(inst.InstanceType))
				cand.SetAttr(resource.AttrAttachedStorageGB, storage[id])
				if state == string(types.InstanceStateNameStopped) {
					if ts, ok := parseTransitionTime(aws.ToString(inst.StateTransitionReason)); ok {
						cand.LastActiveAt = ts
					}
				}
				out = append(out, cand)
			}
		}
	}
	return out, nil
}

func (a *Adapter) listNatGateways(ctx context.Context, c *Clients, region string) ([]resource.Candidate, error) {
	var out []resource.Candidate
	paginator := ec2.NewDescribeNatGatewaysPaginator(c.EC2, &ec2.DescribeNatGatewaysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeNatGateways", err)
		}
		for _, nat := range page.NatGateways {
			if nat.State != types.NatGatewayStateAvailable {
				continue
			}
			cand := candidate(resource.NATGateway, aws.ToString(nat.NatGatewayId), region)
			cand.CreatedAt = aws.ToTime(nat.CreateTime)
			cand.Tags = parseTags(nat.Tags)
			cand.Name = cand.Tags["Name"]
			cand.SetAttr(resource.AttrState, string(nat.State))
			cand.SetAttr("vpc_id", aws.ToString(nat.VpcId))
			if len(nat.NatGatewayAddresses) > 0 {
				cand.SetAttr(resource.AttrPublicIP, aws.ToString(nat.NatGatewayAddresses[0].PublicIp))
			}
			out = append(out, cand)
		}
	}
	return out, nil
}

// volumeIndex lists every volume of the region keyed by id.
func (a *Adapter) volumeIndex(ctx context.Context, c *Clients) (map[string]types.Volume, error) {
	index := make(map[string]types.Volume)
	paginator := ec2.NewDescribeVolumesPaginator(c.EC2, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeVolumes", err)
		}
		for _, v := range page.Volumes {
			index[aws.ToString(v.VolumeId)] = v
		}
	}
	return index, nil
}

// StateTransitionReason looks like "User initiated (2024-01-02 10:00:00 GMT)".
var transitionRe = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

func parseTransitionTime(reason string) (time.Time, bool) {
	m := transitionRe.FindStringSubmatch(reason)
	if len(m) != 2 {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func parseTags(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.Key != nil {
			out[*t.Key] = aws.ToString(t.Value)
		}
	}
	return out
}
