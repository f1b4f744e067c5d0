package pricing

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
)

// CostExplorerAPI is the subset of the Cost Explorer client in use.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Calibrator derives the ratio of amortized to unblended EC2 compute cost so
// that instance-hour list prices reflect savings plans and reservations.
type Calibrator struct {
	logger         *slog.Logger
	svc            CostExplorerAPI
	manualOverride float64
	ttl            time.Duration
	now            func() time.Time

	mu        sync.Mutex
	factor    float64
	fetchedAt time.Time
}

func NewCalibrator(logger *slog.Logger, svc CostExplorerAPI, override float64) *Calibrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Calibrator{
		logger:         logger,
		svc:            svc,
		manualOverride: override,
		ttl:            24 * time.Hour,
		now:            time.Now,
	}
}

// DiscountFactor is fail-open: any error yields the manual override or 1.0.
func (c *Calibrator) DiscountFactor(ctx context.Context) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.factor
	}

	factor, err := c.fetch(ctx)
	if err != nil {
		if c.manualOverride > 0 {
			c.logger.Warn("Calibration failed, using manual override", "error", err, "override", c.manualOverride)
			return c.manualOverride
		}
		c.logger.Warn("Calibration failed, using standard list prices", "error", err)
		return 1.0
	}
	c.factor, c.fetchedAt = factor, c.now()
	return factor
}

func (c *Calibrator) fetch(ctx context.Context) (float64, error) {
	if c.svc == nil {
		if c.manualOverride > 0 {
			return c.manualOverride, nil
		}
		return 1.0, nil
	}
	now := c.now().UTC()
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(now.AddDate(0, 0, -7).Format("2006-01-02")),
			End:   aws.String(now.Format("2006-01-02")),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"AmortizedCost", "UnblendedCost"},
		Filter: &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionService,
				Values: []string{"Amazon Elastic Compute Cloud - Compute"},
			},
		},
	}

	result, err := c.svc.GetCostAndUsage(ctx, input)
	if err != nil {
		return 1.0, err
	}

	var totalAmortized, totalUnblended float64
	for _, byTime := range result.ResultsByTime {
		if amt, ok := byTime.Total["AmortizedCost"]; ok {
			totalAmortized += parseAmount(amt.Amount)
		}
		if amt, ok := byTime.Total["UnblendedCost"]; ok {
			totalUnblended += parseAmount(amt.Amount)
		}
	}

	if totalUnblended == 0 {
		return 1.0, nil
	}

	factor := totalAmortized / totalUnblended
	// Suspicious data.
	if factor > 1.5 || factor < 0.1 {
		return 1.0, nil
	}

	c.logger.Info("Calibrated discount factor", "factor", factor, "source", "aws_cost_explorer")
	return factor, nil
}

func parseAmount(s *string) float64 {
	if s == nil {
		return 0
	}
	f, _ := strconv.ParseFloat(*s, 64)
	return f
}
