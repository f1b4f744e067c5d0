package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// trailRetention is the lookback of CloudTrail event history.
const trailRetention = 90 * 24 * time.Hour

// resolveAllocationTime sets CreatedAt from the AllocateAddress event. When
// the trail holds no such event the allocation predates the retention window
// and the window start is used. A lookup that still fails after retries leaves
// the age unknown.
func (a *Adapter) resolveAllocationTime(ctx context.Context, c *Clients, cand *resource.Candidate) {
	if c.CloudTrail == nil {
		return
	}
	end := a.now()
	start := end.Add(-trailRetention)

	paginator := cloudtrail.NewLookupEventsPaginator(c.CloudTrail, &cloudtrail.LookupEventsInput{
		LookupAttributes: []types.LookupAttribute{
			{
				AttributeKey:   types.LookupAttributeKeyResourceName,
				AttributeValue: aws.String(cand.ID),
			},
		},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		MaxResults: aws.Int32(50),
	})

	for paginator.HasMorePages() {
		page, err := fault.Do(ctx, a.retry, func(ctx context.Context) (*cloudtrail.LookupEventsOutput, error) {
			out, err := paginator.NextPage(ctx)
			return out, classify("LookupEvents", err)
		}, func(err error, wait time.Duration) {
			a.logger.Debug("Retrying CloudTrail lookup", "resource_id", cand.ID, "error", err, "wait", wait)
		})
		if err != nil {
			a.logger.Warn("CloudTrail lookup failed, allocation age unknown", "resource_id", cand.ID, "error", err)
			cand.SetAttr(resource.AttrAgeSource, "unknown")
			return
		}
		for _, ev := range page.Events {
			if aws.ToString(ev.EventName) == "AllocateAddress" && ev.EventTime != nil {
				cand.CreatedAt = ev.EventTime.UTC()
				cand.SetAttr(resource.AttrAgeSource, "cloudtrail")
				return
			}
		}
	}

	cand.CreatedAt = start
	cand.SetAttr(resource.AttrAgeSource, "cloudtrail_retention")
}
