package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/m365"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
	"github.com/surpriz/cloud-waste-sub010/pkg/store/sqlite"
)

func TestWriteJSON_ScanJob(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job := &store.ScanJob{
		ID:        "job-1",
		AccountID: "acct-1",
		ScanType:  "full",
		Status:    store.JobCompleted,
		Regions: []store.RegionStatus{
			{
				Region:           "eu-west-1",
				State:            store.RegionSucceeded,
				ResourcesScanned: 3,
				OrphansFound:     1,
				StartedAt:        start,
				FinishedAt:       start.Add(time.Minute),
			},
			{
				Region:     "us-east-1",
				State:      store.RegionFailed,
				Error:      "throttled: DescribeVolumes",
				StartedAt:  start,
				FinishedAt: start.Add(2 * time.Minute),
			},
		},
		Summary: store.Summary{
			ResourcesScanned:         3,
			OrphansFound:             1,
			EstimatedMonthlyWaste:    8,
			EstimatedCumulativeWaste: 26.4,
			RegionsSucceeded:         1,
			RegionsFailed:            1,
		},
		ErrorMessage: "us-east-1: throttled: DescribeVolumes",
		CreatedAt:    start,
		StartedAt:    start,
		CompletedAt:  start.Add(2 * time.Minute),
	}

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, job))

	g := goldie.New(t)
	g.Assert(t, "scan_job", buf.Bytes())
}

func TestRedactSensitiveData(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "debug")
	logger.Info("loaded", "client_secret", "s3cr3t", "Token", "abc", "account_id", "acct-1")

	out := buf.String()
	assert.NotContains(t, out, "s3cr3t")
	assert.NotContains(t, out, `"abc"`)
	assert.Contains(t, out, `"client_secret":"[REDACTED]"`)
	assert.Contains(t, out, `"account_id":"acct-1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestAccountFromConfig(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(`{"type":"service_account"}`), 0o600))

	tests := []struct {
		name    string
		in      config.AccountConfig
		check   func(t *testing.T, a resource.CloudAccount, c resource.Credential)
		wantErr string
	}{
		{
			name: "aws profile",
			in:   config.AccountConfig{ID: "a1", Owner: "u1", Provider: "aws", Regions: []string{"eu-west-1"}, Profile: "prod"},
			check: func(t *testing.T, a resource.CloudAccount, c resource.Credential) {
				assert.Equal(t, "u1", a.OwnerID)
				assert.Equal(t, []string{"eu-west-1"}, a.Regions)
				require.NotNil(t, c.AWS)
				assert.Equal(t, "prod", c.AWS.Profile)
			},
		},
		{
			name: "m365 gets the global region",
			in:   config.AccountConfig{ID: "t1", Provider: "m365", TenantID: "tenant", ClientID: "app", ClientSecret: "pw"},
			check: func(t *testing.T, a resource.CloudAccount, c resource.Credential) {
				assert.Equal(t, []string{m365.Region}, a.Regions)
				require.NotNil(t, c.Azure)
				assert.Equal(t, "tenant", c.Azure.TenantID)
			},
		},
		{
			name: "gcp reads the key file",
			in:   config.AccountConfig{ID: "g1", Provider: "gcp", ProjectID: "proj", CredentialsFile: keyFile},
			check: func(t *testing.T, a resource.CloudAccount, c resource.Credential) {
				require.NotNil(t, c.GCP)
				assert.Equal(t, "proj", c.GCP.ProjectID)
				assert.JSONEq(t, `{"type":"service_account"}`, string(c.GCP.CredentialsJSON))
			},
		},
		{
			name:    "gcp missing key file",
			in:      config.AccountConfig{ID: "g2", Provider: "gcp", CredentialsFile: filepath.Join(t.TempDir(), "nope.json")},
			wantErr: "read credentials",
		},
		{
			name:    "unknown provider",
			in:      config.AccountConfig{ID: "x", Provider: "oracle"},
			wantErr: "unknown provider",
		},
		{
			name:    "missing id",
			in:      config.AccountConfig{Provider: "aws"},
			wantErr: "without id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, c, err := accountFromConfig(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, a, c)
		})
	}
}

func TestRenderFindings(t *testing.T) {
	out := renderFindings([]store.Finding{
		{AccountID: "a", ResourceType: resource.ElasticIP, ProviderResourceID: "eipalloc-1", Region: "us-east-1",
			MonthlyCost: 3.6, CumulativeCost: 10, Confidence: "high", Status: store.StatusActive},
		{AccountID: "a", ResourceType: resource.EBSVolume, ProviderResourceID: "vol-1", Region: "us-east-1",
			MonthlyCost: 8, CumulativeCost: 26.4, Confidence: "critical", Status: store.StatusIgnored},
	})

	assert.Less(t, strings.Index(out, "vol-1"), strings.Index(out, "eipalloc-1"))
	assert.Contains(t, out, "$11.60")
	assert.Contains(t, out, "$36.40")
	assert.Contains(t, out, "ignored")
}

func TestRenderJobSummary(t *testing.T) {
	out := renderJobSummary(&store.ScanJob{
		ID: "job-1", AccountID: "acct-1", Status: store.JobCompleted,
		Summary:      store.Summary{RegionsSucceeded: 1, RegionsFailed: 1, EstimatedMonthlyWaste: 8},
		ErrorMessage: "us-east-1: throttled",
	})
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "$8.00/month")
	assert.Contains(t, out, "us-east-1: throttled")
}

func useConfig(t *testing.T, yaml string) {
	t.Helper()
	prev := v
	v = viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	t.Cleanup(func() { v = prev })
}

func TestNewApp_SqliteSeedsAccounts(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cloudwaste.db")
	useConfig(t, `
log_format: text
store:
  driver: sqlite
  dsn: `+dsn+`
accounts:
  - id: prod
    owner: team-a
    provider: aws
    regions: [eu-west-1, us-east-1]
`)

	ctx := context.Background()
	a, err := newApp(ctx)
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.IsType(t, &sqlite.Store{}, a.repo)
	acct, err := a.repo.GetAccount(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "team-a", acct.OwnerID)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, acct.Regions)

	cred, err := a.creds.GetDecryptedCredential(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, resource.ProviderAWS, cred.Provider)
}

func TestNewApp_UnknownDriver(t *testing.T) {
	useConfig(t, "store:\n  driver: postgres\n")
	_, err := newApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestNewApp_LocalPricingSnapshot(t *testing.T) {
	dir := t.TempDir()
	useConfig(t, "pricing:\n  snapshot_url: "+dir+"\n")

	ctx := context.Background()
	a, err := newApp(ctx)
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NotNil(t, a.snapshots)
	require.NoError(t, a.cache.Save(ctx, a.snapshots))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestPermissionsCommand(t *testing.T) {
	var buf bytes.Buffer
	permissionsCmd.SetOut(&buf)
	permTypes = []string{"ebs_volume"}
	permPricing = false
	t.Cleanup(func() { permTypes = nil })

	require.NoError(t, permissionsCmd.RunE(permissionsCmd, nil))
	assert.Contains(t, buf.String(), `"ec2:DescribeVolumes"`)
	assert.NotContains(t, buf.String(), "pricing:GetProducts")
}
