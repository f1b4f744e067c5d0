package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// cwQuery is one CloudWatch metric read.
type cwQuery struct {
	namespace  string
	metric     string
	dimensions []cwtypes.Dimension
}

// queriesFor maps a generic metric name onto CloudWatch metrics. Multiple
// queries are summed per day.
func queriesFor(c *resource.Candidate, name string) ([]cwQuery, bool) {
	dim := func(k, v string) []cwtypes.Dimension {
		return []cwtypes.Dimension{{Name: aws.String(k), Value: aws.String(v)}}
	}
	switch c.Type {
	case resource.EBSVolume:
		if name == metrics.VolumeOps {
			d := dim("VolumeId", c.ID)
			return []cwQuery{
				{namespace: "AWS/EBS", metric: "VolumeReadOps", dimensions: d},
				{namespace: "AWS/EBS", metric: "VolumeWriteOps", dimensions: d},
			}, true
		}
	case resource.EC2Instance:
		if name == metrics.CPUUtilization {
			return []cwQuery{{namespace: "AWS/EC2", metric: "CPUUtilization", dimensions: dim("InstanceId", c.ID)}}, true
		}
	case resource.NATGateway:
		if name == metrics.BytesOut {
			return []cwQuery{{namespace: "AWS/NATGateway", metric: "BytesOutToDestination", dimensions: dim("NatGatewayId", c.ID)}}, true
		}
	case resource.LoadBalancer:
		if name != metrics.RequestCount {
			break
		}
		lb := c.String(resource.AttrMetricDimension)
		if lb == "" {
			return nil, false
		}
		if strings.HasPrefix(lb, "net/") {
			return []cwQuery{{namespace: "AWS/NetworkELB", metric: "NewFlowCount", dimensions: dim("LoadBalancer", lb)}}, true
		}
		return []cwQuery{{namespace: "AWS/ApplicationELB", metric: "RequestCount", dimensions: dim("LoadBalancer", lb)}}, true
	case resource.RDSInstance:
		if name == metrics.DatabaseConnections {
			return []cwQuery{{namespace: "AWS/RDS", metric: "DatabaseConnections", dimensions: dim("DBInstanceIdentifier", c.ID)}}, true
		}
	}
	return nil, false
}

// FetchMetrics reads daily datapoints for spec over w.
func (a *Adapter) FetchMetrics(ctx context.Context, c *resource.Candidate, spec metrics.Spec, w metrics.Window) (metrics.Series, error) {
	queries, ok := queriesFor(c, spec.Name)
	if !ok {
		return metrics.Series{}, fault.New(fault.ErrMetricsUnavailable, providerName, "GetMetricStatistics",
			fmt.Errorf("no metric %s for %s", spec.Name, c.Type))
	}
	cw := a.clients(c.Region).CloudWatch

	daily := make(map[time.Time]float64)
	for _, q := range queries {
		out, err := cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(q.namespace),
			MetricName: aws.String(q.metric),
			Dimensions: q.dimensions,
			StartTime:  aws.Time(w.Start),
			EndTime:    aws.Time(w.End),
			Period:     aws.Int32(int32(w.Period / time.Second)),
			Statistics: []cwtypes.Statistic{cwtypes.Statistic(spec.Statistic)},
		})
		if err != nil {
			return metrics.Series{}, classify("GetMetricStatistics", err)
		}
		for _, dp := range out.Datapoints {
			if dp.Timestamp == nil {
				continue
			}
			daily[dp.Timestamp.UTC()] += datapointValue(dp, spec.Statistic)
		}
	}

	points := make([]metrics.Point, 0, len(daily))
	for ts, v := range daily {
		points = append(points, metrics.Point{Time: ts, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return metrics.NewSeries(spec, points), nil
}

func datapointValue(dp cwtypes.Datapoint, stat metrics.Statistic) float64 {
	switch stat {
	case metrics.Maximum:
		return aws.ToFloat64(dp.Maximum)
	case metrics.Sum:
		return aws.ToFloat64(dp.Sum)
	}
	return aws.ToFloat64(dp.Average)
}
