// Package aws implements the provider adapter for Amazon Web Services.
package aws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// EC2API is the read-only subset of the EC2 client used by the adapter.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
}

// ELBAPI is the read-only subset of the ELBv2 client.
type ELBAPI interface {
	DescribeLoadBalancers(ctx context.Context, params *elasticloadbalancingv2.DescribeLoadBalancersInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeLoadBalancersOutput, error)
	DescribeListeners(ctx context.Context, params *elasticloadbalancingv2.DescribeListenersInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeListenersOutput, error)
	DescribeTargetGroups(ctx context.Context, params *elasticloadbalancingv2.DescribeTargetGroupsInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elasticloadbalancingv2.DescribeTargetHealthInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error)
}

// RDSAPI is the read-only subset of the RDS client.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// CloudWatchAPI reads metric statistics.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// CloudTrailAPI looks up management events.
type CloudTrailAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// STSAPI resolves the caller identity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients groups the regional service clients.
type Clients struct {
	EC2        EC2API
	ELB        ELBAPI
	RDS        RDSAPI
	CloudWatch CloudWatchAPI
	CloudTrail CloudTrailAPI
}

// NewClients builds SDK clients for cfg.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		EC2:        ec2.NewFromConfig(cfg),
		ELB:        elasticloadbalancingv2.NewFromConfig(cfg),
		RDS:        rds.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
		CloudTrail: cloudtrail.NewFromConfig(cfg),
	}
}

// Adapter implements provider.Adapter for one AWS account.
type Adapter struct {
	cfg        aws.Config
	sts        STSAPI
	newClients func(region string) *Clients
	logger     *slog.Logger
	now        func() time.Time
	retry      fault.Policy

	mu      sync.Mutex
	regions map[string]*Clients
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClients overrides regional client construction.
func WithClients(f func(region string) *Clients) Option {
	return func(a *Adapter) { a.newClients = f }
}

// WithSTS overrides the identity client.
func WithSTS(c STSAPI) Option {
	return func(a *Adapter) { a.sts = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRetry sets the policy for lookups the adapter makes on its own, such as
// CloudTrail allocation times.
func WithRetry(p fault.Policy) Option {
	return func(a *Adapter) { a.retry = p }
}

// WithClock sets the time source used for age floors.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter creates an adapter over cfg.
func NewAdapter(cfg aws.Config, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		retry:   fault.DefaultPolicy(),
		regions: make(map[string]*Clients),
	}
	a.newClients = func(region string) *Clients {
		return NewClients(regionalConfig(a.cfg, region))
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sts == nil {
		a.sts = sts.NewFromConfig(cfg)
	}
	return a
}

// NewFactory returns the registry factory for AWS accounts. opts apply to
// every adapter it builds.
func NewFactory(logger *slog.Logger, opts ...Option) provider.Factory {
	return func(ctx context.Context, cred resource.Credential) (provider.Adapter, error) {
		if cred.AWS == nil {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "LoadConfig", fmt.Errorf("missing aws credential"))
		}
		cfg, err := LoadConfig(ctx, "", cred.AWS, logger)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cfg, append([]Option{WithLogger(logger)}, opts...)...), nil
	}
}

func (a *Adapter) Provider() resource.Provider { return resource.ProviderAWS }

// ValidateCredentials validates the session and returns the account id.
func (a *Adapter) ValidateCredentials(ctx context.Context) (provider.Identity, error) {
	out, err := a.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return provider.Identity{}, classify("GetCallerIdentity", err)
	}
	return provider.Identity{
		Provider:    resource.ProviderAWS,
		AccountID:   aws.ToString(out.Account),
		DisplayName: aws.ToString(out.Arn),
	}, nil
}

func (a *Adapter) clients(region string) *Clients {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.regions[region]
	if !ok {
		c = a.newClients(region)
		a.regions[region] = c
	}
	return c
}

// ListResources enumerates resources of type t in region.
func (a *Adapter) ListResources(ctx context.Context, t resource.Type, region string) ([]resource.Candidate, error) {
	c := a.clients(region)
	switch t {
	case resource.EBSVolume:
		return a.listVolumes(ctx, c, region)
	case resource.ElasticIP:
		return a.listAddresses(ctx, c, region)
	case resource.EBSSnapshot:
		return a.listSnapshots(ctx, c, region)
	case resource.EC2Instance:
		return a.listInstances(ctx, c, region)
	case resource.NATGateway:
		return a.listNatGateways(ctx, c, region)
	case resource.LoadBalancer:
		return a.listLoadBalancers(ctx, c, region)
	case resource.RDSInstance:
		return a.listDBInstances(ctx, c, region)
	}
	return nil, fault.New(fault.ErrUnsupported, providerName, "ListResources", fmt.Errorf("type %s", t))
}

func candidate(t resource.Type, id, region string) resource.Candidate {
	return resource.Candidate{
		Provider:   resource.ProviderAWS,
		Type:       t,
		ID:         id,
		Region:     region,
		Tags:       map[string]string{},
		Attributes: map[string]interface{}{},
	}
}
