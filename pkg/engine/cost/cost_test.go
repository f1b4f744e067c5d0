package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/pricing"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return now.Add(-time.Duration(d * float64(24*time.Hour)))
}

func newCache() *pricing.Cache {
	return pricing.NewCache(pricing.WithClock(func() time.Time { return now }))
}

func TestEstimate_UnattachedGP3Volume(t *testing.T) {
	c := &resource.Candidate{
		Provider:  resource.ProviderAWS,
		Type:      resource.EBSVolume,
		ID:        "vol-1",
		Region:    "us-east-1",
		CreatedAt: daysAgo(45),
	}
	c.SetAttr(resource.AttrSizeGB, float64(100))
	c.SetAttr(resource.AttrVolumeType, "gp3")

	est := NewEstimator(newCache()).Estimate(c, now)
	assert.Equal(t, 8.00, est.Monthly)
	assert.Equal(t, 12.00, est.Cumulative)
	assert.Equal(t, "USD", est.Currency)
	assert.Equal(t, pricing.SourceFallback, est.Source)
	require.Len(t, est.Lines, 1)
	assert.Equal(t, "ebs:gp3", est.Lines[0].Key.Service)
}

func TestEstimate_UsesFreshAPIPrice(t *testing.T) {
	cache := newCache()
	k := pricing.NewKey(resource.ProviderAWS, "nat_gateway", "", "eu-west-1")
	cache.Merge([]pricing.Entry{{
		Key: k, Price: 0.048, Unit: pricing.UnitHour, Currency: "USD",
		Source: pricing.SourceAPI, FetchedAt: now, ExpiresAt: now.Add(time.Hour),
	}})
	c := &resource.Candidate{
		Provider:  resource.ProviderAWS,
		Type:      resource.NATGateway,
		Region:    "eu-west-1",
		CreatedAt: daysAgo(60),
	}

	est := NewEstimator(cache).Estimate(c, now)
	assert.Equal(t, pricing.SourceAPI, est.Source)
	assert.Equal(t, 35.04, est.Monthly)
	assert.Equal(t, 70.08, est.Cumulative)
}

func TestEstimate_Quantities(t *testing.T) {
	tests := []struct {
		name  string
		cand  resource.Candidate
		attrs map[string]interface{}
		want  float64
	}{
		{
			name: "elastic ip hourly",
			cand: resource.Candidate{Provider: resource.ProviderAWS, Type: resource.ElasticIP},
			want: 3.65,
		},
		{
			name:  "stopped instance bills storage only",
			cand:  resource.Candidate{Provider: resource.ProviderAWS, Type: resource.EC2Instance},
			attrs: map[string]interface{}{resource.AttrState: "stopped", resource.AttrAttachedStorageGB: float64(50), resource.AttrInstanceType: "m5.large"},
			want:  5.00,
		},
		{
			name:  "idle instance bills compute and storage",
			cand:  resource.Candidate{Provider: resource.ProviderAWS, Type: resource.EC2Instance},
			attrs: map[string]interface{}{resource.AttrState: "running", resource.AttrAttachedStorageGB: float64(50), resource.AttrInstanceType: "m5.large"},
			want:  75.08,
		},
		{
			name:  "stopped rds bills storage",
			cand:  resource.Candidate{Provider: resource.ProviderAWS, Type: resource.RDSInstance},
			attrs: map[string]interface{}{resource.AttrState: "stopped", resource.AttrSizeGB: float64(20), resource.AttrDBClass: "db.t3.micro"},
			want:  2.30,
		},
		{
			name:  "premium managed disk",
			cand:  resource.Candidate{Provider: resource.ProviderAzure, Type: resource.ManagedDisk},
			attrs: map[string]interface{}{resource.AttrSizeGB: float64(128), resource.AttrVolumeType: "Premium_LRS"},
			want:  19.20,
		},
		{
			name: "gcp static ip",
			cand: resource.Candidate{Provider: resource.ProviderGCP, Type: resource.StaticIP},
			want: 7.30,
		},
		{
			name:  "unknown license sku uses base price",
			cand:  resource.Candidate{Provider: resource.ProviderM365, Type: resource.M365License},
			attrs: map[string]interface{}{resource.AttrSKU: "FLOW_FREE_PLUS"},
			want:  10.00,
		},
	}
	e := NewEstimator(newCache())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cand
			c.Region = "us-east-1"
			for k, v := range tt.attrs {
				c.SetAttr(k, v)
			}
			est := e.Estimate(&c, now)
			assert.InDelta(t, tt.want, est.Monthly, 0.001)
			assert.Zero(t, est.Cumulative, "unknown creation time")
		})
	}
}

func TestEstimate_CumulativeBounds(t *testing.T) {
	e := NewEstimator(newCache())
	for _, age := range []float64{0, 0.5, 3, 30, 400} {
		c := &resource.Candidate{
			Provider:  resource.ProviderGCP,
			Type:      resource.PersistentDisk,
			Region:    "us-central1",
			CreatedAt: daysAgo(age),
		}
		c.SetAttr(resource.AttrSizeGB, float64(500))
		est := e.Estimate(c, now)
		assert.GreaterOrEqual(t, est.Cumulative, 0.0)
		// 1e-9 absorbs float noise in the bound, not a cent.
		assert.LessOrEqual(t, est.Cumulative, est.Monthly*age/30+1e-9)
	}

	future := &resource.Candidate{
		Provider:  resource.ProviderGCP,
		Type:      resource.PersistentDisk,
		CreatedAt: now.Add(time.Hour),
	}
	future.SetAttr(resource.AttrSizeGB, float64(500))
	assert.Zero(t, e.Estimate(future, now).Cumulative)
}

func TestEstimate_UnknownTypeIsZero(t *testing.T) {
	est := NewEstimator(newCache()).Estimate(&resource.Candidate{Type: "mystery"}, now)
	assert.Zero(t, est.Monthly)
	assert.Equal(t, pricing.SourceFallback, est.Source)
}

func TestEstimate_CumulativeNeverExceedsReportedMonthly(t *testing.T) {
	tests := []struct {
		name    string
		sizeGB  float64
		age     float64
		monthly float64
		want    float64
	}{
		{"rounded monthly", 100.05, 45, 8.00, 12.00},
		{"rounds down", 100, 44.99, 8.00, 11.99},
		{"partial cent", 101, 1, 8.08, 0.26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &resource.Candidate{
				Provider:  resource.ProviderAWS,
				Type:      resource.EBSVolume,
				Region:    "us-east-1",
				CreatedAt: daysAgo(tt.age),
			}
			c.SetAttr(resource.AttrSizeGB, tt.sizeGB)
			c.SetAttr(resource.AttrVolumeType, "gp3")

			est := NewEstimator(newCache()).Estimate(c, now)
			assert.Equal(t, tt.monthly, est.Monthly)
			assert.Equal(t, tt.want, est.Cumulative)
			assert.LessOrEqual(t, est.Cumulative, est.Monthly*tt.age/30+1e-9)
		})
	}
}
