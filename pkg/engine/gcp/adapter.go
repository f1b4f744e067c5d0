// Package gcp implements the provider adapter for Google Cloud projects.
package gcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// ComputeAPI is the read-only subset of the Compute Engine API used by the adapter.
type ComputeAPI interface {
	ListZones(ctx context.Context, project, region string) ([]string, error)
	ListDisks(ctx context.Context, project, zone string) ([]*compute.Disk, error)
	ListAddresses(ctx context.Context, project, region string) ([]*compute.Address, error)
	ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error)
}

// ProjectsAPI reads project metadata.
type ProjectsAPI interface {
	GetProject(ctx context.Context, projectID string) (*cloudresourcemanager.Project, error)
}

// Adapter implements provider.Adapter for one project.
type Adapter struct {
	projectID string
	compute   ComputeAPI
	projects  ProjectsAPI
	logger    *slog.Logger
}

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an adapter over the given clients.
func NewAdapter(projectID string, c ComputeAPI, p ProjectsAPI, opts ...Option) *Adapter {
	a := &Adapter{
		projectID: projectID,
		compute:   c,
		projects:  p,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFactory returns the registry factory for GCP projects.
func NewFactory(logger *slog.Logger) provider.Factory {
	return func(ctx context.Context, cred resource.Credential) (provider.Adapter, error) {
		if cred.GCP == nil || cred.GCP.ProjectID == "" {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "NewClients", fmt.Errorf("missing gcp project"))
		}
		c, err := newAPIClients(ctx, cred.GCP)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cred.GCP.ProjectID, c, c, WithLogger(logger)), nil
	}
}

func (a *Adapter) Provider() resource.Provider { return resource.ProviderGCP }

// ValidateCredentials reads the project, which requires a valid token.
func (a *Adapter) ValidateCredentials(ctx context.Context) (provider.Identity, error) {
	p, err := a.projects.GetProject(ctx, a.projectID)
	if err != nil {
		return provider.Identity{}, classify("GetProject", err)
	}
	name := a.projectID
	if p != nil && p.Name != "" {
		name = p.Name
	}
	return provider.Identity{Provider: resource.ProviderGCP, AccountID: a.projectID, DisplayName: name}, nil
}

func (a *Adapter) ListResources(ctx context.Context, t resource.Type, region string) ([]resource.Candidate, error) {
	switch t {
	case resource.PersistentDisk:
		return a.listDisks(ctx, region)
	case resource.StaticIP:
		return a.listAddresses(ctx, region)
	case resource.ComputeInstance:
		return a.listInstances(ctx, region)
	}
	return nil, fault.New(fault.ErrUnsupported, providerName, "ListResources", fmt.Errorf("type %s", t))
}

// FetchMetrics is not backed by Cloud Monitoring; every gcp rule is existence based.
func (a *Adapter) FetchMetrics(ctx context.Context, c *resource.Candidate, spec metrics.Spec, w metrics.Window) (metrics.Series, error) {
	return metrics.Series{}, fault.New(fault.ErrMetricsUnavailable, providerName, "FetchMetrics", fmt.Errorf("metric %s", spec.Name))
}

func (a *Adapter) zones(ctx context.Context, region string) ([]string, error) {
	zones, err := a.compute.ListZones(ctx, a.projectID, region)
	if err != nil {
		return nil, classify("Regions.Get", err)
	}
	return zones, nil
}

func (a *Adapter) listDisks(ctx context.Context, region string) ([]resource.Candidate, error) {
	zones, err := a.zones(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []resource.Candidate
	for _, zone := range zones {
		disks, err := a.compute.ListDisks(ctx, a.projectID, zone)
		if err != nil {
			return nil, classify("Disks.List", err)
		}
		for _, d := range disks {
			cand := candidate(resource.PersistentDisk, d.SelfLink, d.Name, region, d.Labels)
			cand.CreatedAt = parseTimestamp(d.CreationTimestamp)
			cand.SetAttr(resource.AttrSizeGB, float64(d.SizeGb))
			cand.SetAttr(resource.AttrVolumeType, lastSegment(d.Type))
			cand.SetAttr(resource.AttrState, d.Status)
			attached := len(d.Users) > 0
			cand.SetAttr(resource.AttrAttached, attached)
			if attached {
				cand.SetAttr(resource.AttrAttachedInstance, lastSegment(d.Users[0]))
			} else if ts := parseTimestamp(d.LastDetachTimestamp); !ts.IsZero() {
				cand.LastActiveAt = ts
			}
			cand.SetAttr("zone", zone)
			out = append(out, cand)
		}
	}
	return out, nil
}

func (a *Adapter) listAddresses(ctx context.Context, region string) ([]resource.Candidate, error) {
	addrs, err := a.compute.ListAddresses(ctx, a.projectID, region)
	if err != nil {
		return nil, classify("Addresses.List", err)
	}
	var out []resource.Candidate
	for _, addr := range addrs {
		if addr.AddressType != "" && addr.AddressType != "EXTERNAL" {
			continue
		}
		cand := candidate(resource.StaticIP, addr.SelfLink, addr.Name, region, addr.Labels)
		cand.CreatedAt = parseTimestamp(addr.CreationTimestamp)
		cand.SetAttr(resource.AttrPublicIP, addr.Address)
		cand.SetAttr(resource.AttrState, addr.Status)
		cand.SetAttr(resource.AttrAssociated, len(addr.Users) > 0 || addr.Status == "IN_USE")
		out = append(out, cand)
	}
	return out, nil
}

func (a *Adapter) listInstances(ctx context.Context, region string) ([]resource.Candidate, error) {
	zones, err := a.zones(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []resource.Candidate
	for _, zone := range zones {
		instances, err := a.compute.ListInstances(ctx, a.projectID, zone)
		if err != nil {
			return nil, classify("Instances.List", err)
		}
		for _, inst := range instances {
			cand := candidate(resource.ComputeInstance, inst.SelfLink, inst.Name, region, inst.Labels)
			cand.CreatedAt = parseTimestamp(inst.CreationTimestamp)
			cand.SetAttr(resource.AttrState, inst.Status)
			cand.SetAttr(resource.AttrInstanceType, lastSegment(inst.MachineType))
			var storage float64
			for _, d := range inst.Disks {
				storage += float64(d.DiskSizeGb)
			}
			cand.SetAttr(resource.AttrAttachedStorageGB, storage)
			if inst.Status == "TERMINATED" {
				cand.LastActiveAt = parseTimestamp(inst.LastStopTimestamp)
			}
			cand.SetAttr("zone", zone)
			out = append(out, cand)
		}
	}
	return out, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// lastSegment returns the resource name at the end of a Compute URL.
func lastSegment(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

func candidate(t resource.Type, selfLink, name, region string, labels map[string]string) resource.Candidate {
	id := selfLink
	if id == "" {
		id = name
	}
	c := resource.Candidate{
		Provider:   resource.ProviderGCP,
		Type:       t,
		ID:         id,
		Name:       name,
		Region:     region,
		Tags:       make(map[string]string, len(labels)),
		Attributes: map[string]interface{}{},
	}
	for k, v := range labels {
		c.Tags[k] = v
	}
	return c
}
