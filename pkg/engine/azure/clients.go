package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

// armClients implements ComputeAPI, NetworkAPI and SubscriptionAPI over the ARM SDK.
type armClients struct {
	disks *armcompute.DisksClient
	vms   *armcompute.VirtualMachinesClient
	ips   *armnetwork.PublicIPAddressesClient
	subs  *armsubscriptions.Client
}

// ClientOptions disables SDK retries; the scan engine applies its own policy.
func ClientOptions() policy.ClientOptions {
	return policy.ClientOptions{Retry: policy.RetryOptions{MaxRetries: -1}}
}

func newARMClients(subscriptionID string, cred azcore.TokenCredential) (*armClients, error) {
	opts := &arm.ClientOptions{ClientOptions: ClientOptions()}
	disks, err := armcompute.NewDisksClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create disks client: %w", err)
	}
	vms, err := armcompute.NewVirtualMachinesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM client: %w", err)
	}
	ips, err := armnetwork.NewPublicIPAddressesClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create public IP client: %w", err)
	}
	subs, err := armsubscriptions.NewClient(cred, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	return &armClients{disks: disks, vms: vms, ips: ips, subs: subs}, nil
}

func (c *armClients) ListDisks(ctx context.Context) ([]*armcompute.Disk, error) {
	var out []*armcompute.Disk
	pager := c.disks.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

func (c *armClients) ListVirtualMachines(ctx context.Context) ([]*armcompute.VirtualMachine, error) {
	var out []*armcompute.VirtualMachine
	pager := c.vms.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

func (c *armClients) GetInstanceView(ctx context.Context, resourceGroup, name string) (*armcompute.VirtualMachineInstanceView, error) {
	resp, err := c.vms.InstanceView(ctx, resourceGroup, name, nil)
	if err != nil {
		return nil, err
	}
	return &resp.VirtualMachineInstanceView, nil
}

func (c *armClients) ListPublicIPs(ctx context.Context) ([]*armnetwork.PublicIPAddress, error) {
	var out []*armnetwork.PublicIPAddress
	pager := c.ips.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

func (c *armClients) GetSubscription(ctx context.Context, id string) (*armsubscriptions.Subscription, error) {
	resp, err := c.subs.Get(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return &resp.Subscription, nil
}
