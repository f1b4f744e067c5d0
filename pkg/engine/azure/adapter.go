// Package azure implements the provider adapter for Azure subscriptions.
package azure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// ComputeAPI lists compute resources of a subscription.
type ComputeAPI interface {
	ListDisks(ctx context.Context) ([]*armcompute.Disk, error)
	ListVirtualMachines(ctx context.Context) ([]*armcompute.VirtualMachine, error)
	GetInstanceView(ctx context.Context, resourceGroup, name string) (*armcompute.VirtualMachineInstanceView, error)
}

// NetworkAPI lists network resources of a subscription.
type NetworkAPI interface {
	ListPublicIPs(ctx context.Context) ([]*armnetwork.PublicIPAddress, error)
}

// SubscriptionAPI reads subscription metadata.
type SubscriptionAPI interface {
	GetSubscription(ctx context.Context, id string) (*armsubscriptions.Subscription, error)
}

// Adapter implements provider.Adapter for one subscription.
type Adapter struct {
	subscriptionID string
	compute        ComputeAPI
	network        NetworkAPI
	subscriptions  SubscriptionAPI
	logger         *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an adapter over the given clients.
func NewAdapter(subscriptionID string, compute ComputeAPI, network NetworkAPI, subs SubscriptionAPI, opts ...Option) *Adapter {
	a := &Adapter{
		subscriptionID: subscriptionID,
		compute:        compute,
		network:        network,
		subscriptions:  subs,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewCredential returns a client-secret credential, or the default credential
// chain when no secret is configured.
func NewCredential(c *resource.AzureCredential) (azcore.TokenCredential, error) {
	if c != nil && c.ClientSecret != "" {
		return azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

// NewFactory returns the registry factory for Azure subscriptions.
func NewFactory(logger *slog.Logger) provider.Factory {
	return func(ctx context.Context, cred resource.Credential) (provider.Adapter, error) {
		if cred.Azure == nil || cred.Azure.SubscriptionID == "" {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "NewCredential", fmt.Errorf("missing azure subscription"))
		}
		tc, err := NewCredential(cred.Azure)
		if err != nil {
			return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "NewCredential", err)
		}
		clients, err := newARMClients(cred.Azure.SubscriptionID, tc)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cred.Azure.SubscriptionID, clients, clients, clients, WithLogger(logger)), nil
	}
}

func (a *Adapter) Provider() resource.Provider { return resource.ProviderAzure }

// ValidateCredentials reads the subscription, which requires a valid token.
func (a *Adapter) ValidateCredentials(ctx context.Context) (provider.Identity, error) {
	sub, err := a.subscriptions.GetSubscription(ctx, a.subscriptionID)
	if err != nil {
		return provider.Identity{}, classify("GetSubscription", err)
	}
	name := a.subscriptionID
	if sub != nil && sub.DisplayName != nil {
		name = *sub.DisplayName
	}
	return provider.Identity{
		Provider:    resource.ProviderAzure,
		AccountID:   a.subscriptionID,
		DisplayName: name,
	}, nil
}

// ListResources lists the subscription-wide resources of type t located in region.
func (a *Adapter) ListResources(ctx context.Context, t resource.Type, region string) ([]resource.Candidate, error) {
	switch t {
	case resource.ManagedDisk:
		return a.listDisks(ctx, region)
	case resource.PublicIP:
		return a.listPublicIPs(ctx, region)
	case resource.VirtualMachine:
		return a.listVirtualMachines(ctx, region)
	}
	return nil, fault.New(fault.ErrUnsupported, providerName, "ListResources", fmt.Errorf("type %s", t))
}

// FetchMetrics is not backed by Azure Monitor; every azure rule is existence based.
func (a *Adapter) FetchMetrics(ctx context.Context, c *resource.Candidate, spec metrics.Spec, w metrics.Window) (metrics.Series, error) {
	return metrics.Series{}, fault.New(fault.ErrMetricsUnavailable, providerName, "FetchMetrics", fmt.Errorf("metric %s", spec.Name))
}

func (a *Adapter) listDisks(ctx context.Context, region string) ([]resource.Candidate, error) {
	disks, err := a.compute.ListDisks(ctx)
	if err != nil {
		return nil, classify("ListDisks", err)
	}
	var out []resource.Candidate
	for _, d := range disks {
		if d == nil || !inRegion(d.Location, region) {
			continue
		}
		cand := candidate(resource.ManagedDisk, d.ID, d.Name, region, d.Tags)
		if d.SKU != nil && d.SKU.Name != nil {
			cand.SetAttr(resource.AttrVolumeType, string(*d.SKU.Name))
		}
		attached := d.ManagedBy != nil && *d.ManagedBy != ""
		if p := d.Properties; p != nil {
			if p.TimeCreated != nil {
				cand.CreatedAt = p.TimeCreated.UTC()
			}
			if p.DiskSizeGB != nil {
				cand.SetAttr(resource.AttrSizeGB, float64(*p.DiskSizeGB))
			}
			if p.DiskState != nil {
				cand.SetAttr(resource.AttrState, string(*p.DiskState))
				attached = attached || *p.DiskState != armcompute.DiskStateUnattached
			}
			if !attached && p.LastOwnershipUpdateTime != nil {
				cand.LastActiveAt = p.LastOwnershipUpdateTime.UTC()
			}
		}
		cand.SetAttr(resource.AttrAttached, attached)
		out = append(out, cand)
	}
	return out, nil
}

func (a *Adapter) listPublicIPs(ctx context.Context, region string) ([]resource.Candidate, error) {
	ips, err := a.network.ListPublicIPs(ctx)
	if err != nil {
		return nil, classify("ListPublicIPs", err)
	}
	var out []resource.Candidate
	for _, ip := range ips {
		if ip == nil || !inRegion(ip.Location, region) {
			continue
		}
		cand := candidate(resource.PublicIP, ip.ID, ip.Name, region, ip.Tags)
		if ip.SKU != nil && ip.SKU.Name != nil {
			cand.SetAttr(resource.AttrSKU, string(*ip.SKU.Name))
		}
		associated := false
		if p := ip.Properties; p != nil {
			associated = p.IPConfiguration != nil || p.NatGateway != nil
			if p.IPAddress != nil {
				cand.SetAttr(resource.AttrPublicIP, *p.IPAddress)
			}
		}
		cand.SetAttr(resource.AttrAssociated, associated)
		out = append(out, cand)
	}
	return out, nil
}

func (a *Adapter) listVirtualMachines(ctx context.Context, region string) ([]resource.Candidate, error) {
	vms, err := a.compute.ListVirtualMachines(ctx)
	if err != nil {
		return nil, classify("ListVirtualMachines", err)
	}
	var out []resource.Candidate
	for _, vm := range vms {
		if vm == nil || vm.ID == nil || !inRegion(vm.Location, region) {
			continue
		}
		cand := candidate(resource.VirtualMachine, vm.ID, vm.Name, region, vm.Tags)
		if p := vm.Properties; p != nil {
			if p.TimeCreated != nil {
				cand.CreatedAt = p.TimeCreated.UTC()
			}
			if p.HardwareProfile != nil && p.HardwareProfile.VMSize != nil {
				cand.SetAttr(resource.AttrInstanceType, string(*p.HardwareProfile.VMSize))
			}
			cand.SetAttr(resource.AttrAttachedStorageGB, attachedStorage(p.StorageProfile))
		}

		view, err := a.compute.GetInstanceView(ctx, resourceGroup(*vm.ID), deref(vm.Name))
		if err != nil {
			err = classify("InstanceView", err)
			if fault.Retryable(err) || fault.Fatal(err) {
				return nil, err
			}
			a.logger.Debug("Instance view unavailable", "vm", deref(vm.ID), "error", err)
			continue
		}
		state, changed := powerState(view)
		cand.SetAttr(resource.AttrState, state)
		if state == "deallocated" && !changed.IsZero() {
			cand.LastActiveAt = changed
		}
		out = append(out, cand)
	}
	return out, nil
}

// powerState returns the VM power state and the time of the last provisioning
// transition, which approximates when the VM was deallocated.
func powerState(view *armcompute.VirtualMachineInstanceView) (string, time.Time) {
	if view == nil {
		return "", time.Time{}
	}
	var state string
	var changed time.Time
	for _, s := range view.Statuses {
		if s == nil || s.Code == nil {
			continue
		}
		switch {
		case strings.HasPrefix(*s.Code, "PowerState/"):
			state = strings.TrimPrefix(*s.Code, "PowerState/")
		case strings.HasPrefix(*s.Code, "ProvisioningState/") && s.Time != nil:
			changed = s.Time.UTC()
		}
	}
	return state, changed
}

func attachedStorage(sp *armcompute.StorageProfile) float64 {
	if sp == nil {
		return 0
	}
	var total float64
	if sp.OSDisk != nil && sp.OSDisk.DiskSizeGB != nil {
		total += float64(*sp.OSDisk.DiskSizeGB)
	}
	for _, d := range sp.DataDisks {
		if d != nil && d.DiskSizeGB != nil {
			total += float64(*d.DiskSizeGB)
		}
	}
	return total
}

// inRegion compares an ARM location ("westeurope") with a configured region,
// ignoring case and spaces ("West Europe").
func inRegion(location *string, region string) bool {
	if location == nil {
		return false
	}
	norm := func(s string) string { return strings.ToLower(strings.ReplaceAll(s, " ", "")) }
	return norm(*location) == norm(region)
}

// resourceGroup extracts the resource group segment of an ARM id.
func resourceGroup(id string) string {
	parts := strings.Split(id, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func candidate(t resource.Type, id, name *string, region string, tags map[string]*string) resource.Candidate {
	c := resource.Candidate{
		Provider:   resource.ProviderAzure,
		Type:       t,
		ID:         deref(id),
		Name:       deref(name),
		Region:     region,
		Tags:       make(map[string]string, len(tags)),
		Attributes: map[string]interface{}{},
	}
	for k, v := range tags {
		c.Tags[k] = deref(v)
	}
	return c
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
