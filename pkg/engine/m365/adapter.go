// Package m365 implements the provider adapter for Microsoft 365 tenants.
// Licensed users are the billable resources; the tenant has a single
// pseudo-region, "global".
package m365

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/azure"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

const (
	providerName = "m365"
	// Region is the only region of a tenant.
	Region = "global"
)

type Adapter struct {
	tenantID string
	graph    GraphAPI
	logger   *slog.Logger
}

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAdapter(tenantID string, g GraphAPI, opts ...Option) *Adapter {
	a := &Adapter{
		tenantID: tenantID,
		graph:    g,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFactory returns the registry factory for Microsoft 365 tenants.
func NewFactory(logger *slog.Logger) provider.Factory {
	return func(ctx context.Context, cred resource.Credential) (provider.Adapter, error) {
		if cred.Azure == nil || cred.Azure.TenantID == "" {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "NewCredential", fmt.Errorf("missing tenant"))
		}
		tc, err := azure.NewCredential(cred.Azure)
		if err != nil {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "NewCredential", err)
		}
		return NewAdapter(cred.Azure.TenantID, NewGraphClient(tc, "", nil), WithLogger(logger)), nil
	}
}

func (a *Adapter) Provider() resource.Provider { return resource.ProviderM365 }

// ValidateCredentials reads the organization, which requires a Graph token.
func (a *Adapter) ValidateCredentials(ctx context.Context) (provider.Identity, error) {
	org, err := a.graph.GetOrganization(ctx)
	if err != nil {
		return provider.Identity{}, azure.Classify(providerName, "GetOrganization", err)
	}
	id := org.ID
	if id == "" {
		id = a.tenantID
	}
	return provider.Identity{Provider: resource.ProviderM365, AccountID: id, DisplayName: org.DisplayName}, nil
}

// ListResources returns one candidate per (user, license) assignment.
func (a *Adapter) ListResources(ctx context.Context, t resource.Type, region string) ([]resource.Candidate, error) {
	if t != resource.M365License {
		return nil, fault.New(fault.ErrUnsupported, providerName, "ListResources", fmt.Errorf("type %s", t))
	}
	skus, err := a.graph.ListSubscribedSkus(ctx)
	if err != nil {
		return nil, azure.Classify(providerName, "ListSubscribedSkus", err)
	}
	parts := make(map[string]string, len(skus))
	for _, s := range skus {
		parts[s.SkuID] = s.SkuPartNumber
	}

	users, err := a.graph.ListUsers(ctx)
	if err != nil {
		return nil, azure.Classify(providerName, "ListUsers", err)
	}

	var out []resource.Candidate
	for _, u := range users {
		for _, lic := range u.AssignedLicenses {
			sku := parts[lic.SkuID]
			if sku == "" {
				sku = lic.SkuID
			}
			cand := resource.Candidate{
				Provider:   resource.ProviderM365,
				Type:       resource.M365License,
				ID:         u.ID + "/" + sku,
				Name:       u.DisplayName,
				Region:     Region,
				Tags:       map[string]string{},
				Attributes: map[string]interface{}{},
			}
			if u.CreatedDateTime != nil {
				cand.CreatedAt = u.CreatedDateTime.UTC()
			}
			signedIn := u.SignInActivity != nil && u.SignInActivity.LastSignInDateTime != nil
			if signedIn {
				cand.LastActiveAt = u.SignInActivity.LastSignInDateTime.UTC()
			}
			cand.SetAttr(resource.AttrSKU, sku)
			cand.SetAttr(resource.AttrUserPrincipalName, u.UserPrincipalName)
			cand.SetAttr(resource.AttrAccountEnabled, u.AccountEnabled == nil || *u.AccountEnabled)
			cand.SetAttr(resource.AttrSignedIn, signedIn)
			out = append(out, cand)
		}
	}
	return out, nil
}

func (a *Adapter) FetchMetrics(ctx context.Context, c *resource.Candidate, spec metrics.Spec, w metrics.Window) (metrics.Series, error) {
	return metrics.Series{}, fault.New(fault.ErrMetricsUnavailable, providerName, "FetchMetrics", fmt.Errorf("metric %s", spec.Name))
}
