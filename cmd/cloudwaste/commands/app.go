package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	awsengine "github.com/surpriz/cloud-waste-sub010/pkg/engine/aws"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/azure"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/cost"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/detect"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/gcp"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/m365"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/notifier"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/pricing"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/reconcile"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/scan"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/swarm"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/storage"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
	"github.com/surpriz/cloud-waste-sub010/pkg/store/dynamo"
	"github.com/surpriz/cloud-waste-sub010/pkg/store/memory"
	"github.com/surpriz/cloud-waste-sub010/pkg/store/sqlite"
	"github.com/surpriz/cloud-waste-sub010/pkg/telemetry"
	"github.com/surpriz/cloud-waste-sub010/pkg/version"
)

// pricingRegion hosts the AWS Price List and Cost Explorer endpoints.
const pricingRegion = "us-east-1"

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg    config.ScanConfig
	logger *slog.Logger
	awsCfg aws.Config
	repo   store.Repository
	creds  *memory.Credentials

	cache     *pricing.Cache
	snapshots storage.BlobStore

	closers []func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		logger: newLogger(os.Stderr, cfg.LogFormat, logLevel),
	}
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    version.AppName,
		ServiceVersion: version.Current,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.awsCfg, err = platformAWSConfig(ctx, cfg.Store.Region)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.seedAccounts(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.openPricing(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// platformAWSConfig is the configuration of the tool's own AWS resources
// (DynamoDB table, snapshot bucket, Price List). It keeps the SDK retryer.
func platformAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = config.DefaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return cfg, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "", "memory":
		a.repo = memory.New()
	case "sqlite":
		dsn := a.cfg.Store.DSN
		if dsn == "" {
			dsn = "cloudwaste.db"
		}
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return err
		}
		a.repo = s
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	case "dynamodb":
		a.repo = dynamo.NewFromConfig(a.awsCfg, a.cfg.Store.TablePrefix)
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	a.logger.Debug("Store opened", "driver", a.cfg.Store.Driver)
	return nil
}

type accountWriter interface {
	PutAccount(ctx context.Context, a resource.CloudAccount) error
}

// seedAccounts registers the configured accounts in the store and their
// credentials in the local credential provider.
func (a *app) seedAccounts(ctx context.Context) error {
	a.creds = memory.NewCredentials()
	for _, ac := range a.cfg.Accounts {
		acct, cred, err := accountFromConfig(ac)
		if err != nil {
			return err
		}
		switch s := a.repo.(type) {
		case *memory.Store:
			s.PutAccount(acct)
		case accountWriter:
			if err := s.PutAccount(ctx, acct); err != nil {
				return fmt.Errorf("register account %s: %w", acct.ID, err)
			}
		}
		a.creds.Put(acct.ID, cred)
	}
	return nil
}

func accountFromConfig(ac config.AccountConfig) (resource.CloudAccount, resource.Credential, error) {
	if ac.ID == "" {
		return resource.CloudAccount{}, resource.Credential{}, errors.New("account without id")
	}
	p := resource.Provider(ac.Provider)
	acct := resource.CloudAccount{ID: ac.ID, OwnerID: ac.Owner, Provider: p, Regions: ac.Regions}
	cred := resource.Credential{Provider: p}

	switch p {
	case resource.ProviderAWS:
		cred.AWS = &resource.AWSCredential{Profile: ac.Profile}
	case resource.ProviderAzure, resource.ProviderM365:
		cred.Azure = &resource.AzureCredential{
			TenantID:       ac.TenantID,
			ClientID:       ac.ClientID,
			ClientSecret:   ac.ClientSecret,
			SubscriptionID: ac.SubscriptionID,
		}
		if p == resource.ProviderM365 && len(acct.Regions) == 0 {
			acct.Regions = []string{m365.Region}
		}
	case resource.ProviderGCP:
		cred.GCP = &resource.GCPCredential{ProjectID: ac.ProjectID}
		if ac.CredentialsFile != "" {
			data, err := os.ReadFile(ac.CredentialsFile)
			if err != nil {
				return acct, cred, fmt.Errorf("account %s: read credentials: %w", ac.ID, err)
			}
			cred.GCP.CredentialsJSON = data
		}
	default:
		return acct, cred, fmt.Errorf("account %s: unknown provider %q", ac.ID, ac.Provider)
	}
	return acct, cred, nil
}

func (a *app) openPricing(ctx context.Context) error {
	a.cache = pricing.NewCache(
		pricing.WithTTL(a.cfg.Pricing.TTL),
		pricing.WithLogger(a.logger),
	)
	if err := a.cache.Validate(); err != nil {
		return fmt.Errorf("pricing self-check: %w", err)
	}
	if a.cfg.Pricing.SnapshotURL == "" {
		return nil
	}
	bs, err := storage.Open(a.cfg.Pricing.SnapshotURL, a.awsCfg)
	if err != nil {
		return err
	}
	a.snapshots = bs
	if _, err := a.cache.Load(ctx, bs); err != nil {
		a.logger.Warn("Pricing snapshot not loaded", "error", err)
	}
	return nil
}

// refresher builds the single cache writer. Extra options select the scan
// (on-demand) or the full-pass mode.
func (a *app) refresher(opts ...pricing.RefresherOption) *pricing.Refresher {
	priceCfg := a.awsCfg.Copy()
	priceCfg.Region = pricingRegion
	calibrator := pricing.NewCalibrator(a.logger, costexplorer.NewFromConfig(priceCfg), a.cfg.Pricing.DiscountRate)
	src := pricing.NewAWSSource(awspricing.NewFromConfig(priceCfg), calibrator)

	var regions []string
	for _, ac := range a.cfg.Accounts {
		if resource.Provider(ac.Provider) == resource.ProviderAWS {
			regions = append(regions, ac.Regions...)
		}
	}

	base := []pricing.RefresherOption{
		pricing.WithRefresherLogger(a.logger),
		pricing.WithInterval(a.cfg.Pricing.RefreshInterval),
		pricing.WithRetry(fault.PolicyFrom(a.cfg.Retry)),
		pricing.WithSeedKeys(a.cache.Fallback().Keys(resource.ProviderAWS, uniq(regions))),
	}
	if a.snapshots != nil {
		base = append(base, pricing.WithStore(a.snapshots))
	}
	return pricing.NewRefresher(a.cache, []pricing.PriceSource{src}, append(base, opts...)...)
}

func registry(logger *slog.Logger, retry fault.Policy) *provider.Registry {
	r := provider.NewRegistry()
	r.Register(resource.ProviderAWS, awsengine.NewFactory(logger, awsengine.WithRetry(retry)))
	r.Register(resource.ProviderAzure, azure.NewFactory(logger))
	r.Register(resource.ProviderGCP, gcp.NewFactory(logger))
	r.Register(resource.ProviderM365, m365.NewFactory(logger))
	return r
}

// orchestrator wires the scan engine on top of a worker pool. The caller
// starts and drains the pool.
func (a *app) orchestrator(pool *swarm.Pool) (*scan.Orchestrator, error) {
	detector, err := detect.New(detect.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	var overrides config.RuleSet
	if a.cfg.RulesFile != "" {
		overrides, err = config.LoadRulesFile(a.cfg.RulesFile)
		if err != nil {
			return nil, err
		}
	}
	deps := scan.Deps{
		Repo:        a.repo,
		Credentials: a.creds,
		Adapters:    registry(a.logger, fault.PolicyFrom(a.cfg.Retry)),
		Detector:    detector,
		Estimator:   cost.NewEstimator(a.cache),
		Reconciler:  reconcile.New(a.repo, reconcile.WithLogger(a.logger)),
		Overrides:   overrides,
	}
	return scan.New(deps, a.cfg, scan.WithLogger(a.logger), scan.WithQueue(pool))
}

func (a *app) newPool() *swarm.Pool {
	w := a.cfg.Queue.Workers
	return swarm.NewPool(max(w/2, 1), w, a.cfg.Queue.Buffer,
		swarm.WithLogger(a.logger),
		swarm.WithFastLatency(a.cfg.ScanTimeout/4))
}

// notify reports a finished job to Slack when a webhook is configured.
func (a *app) notify(ctx context.Context, job *store.ScanJob) {
	n := a.cfg.Notify
	if n.SlackWebhook == "" {
		return
	}
	if err := notifier.NewSlackClient(n.SlackWebhook, n.SlackChannel).SendScanReport(ctx, job); err != nil {
		a.logger.Warn("Slack notification failed", "job_id", job.ID, "error", err)
	}
}

// Close releases resources in reverse order.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func uniq(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
