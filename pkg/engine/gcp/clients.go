package gcp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// apiClients implements ComputeAPI and ProjectsAPI over the generated Google clients.
type apiClients struct {
	compute  *compute.Service
	projects *cloudresourcemanager.Service
}

// credentials resolves a token source from the service-account JSON, or from
// Application Default Credentials when none is given.
func credentials(ctx context.Context, c *resource.GCPCredential) (*google.Credentials, error) {
	scopes := []string{compute.ComputeReadonlyScope, cloudresourcemanager.CloudPlatformReadOnlyScope}
	if len(c.CredentialsJSON) > 0 {
		return google.CredentialsFromJSON(ctx, c.CredentialsJSON, scopes...)
	}
	return google.FindDefaultCredentials(ctx, scopes...)
}

func newAPIClients(ctx context.Context, c *resource.GCPCredential) (*apiClients, error) {
	creds, err := credentials(ctx, c)
	if err != nil {
		return nil, fault.New(fault.ErrCredentialsInvalid, providerName, "Credentials", err)
	}
	computeSvc, err := compute.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Compute client: %w", err)
	}
	projectsSvc, err := cloudresourcemanager.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Resource Manager client: %w", err)
	}
	return &apiClients{compute: computeSvc, projects: projectsSvc}, nil
}

func (c *apiClients) ListZones(ctx context.Context, project, region string) ([]string, error) {
	r, err := c.compute.Regions.Get(project, region).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	zones := make([]string, 0, len(r.Zones))
	for _, z := range r.Zones {
		zones = append(zones, lastSegment(z))
	}
	return zones, nil
}

func (c *apiClients) ListDisks(ctx context.Context, project, zone string) ([]*compute.Disk, error) {
	var out []*compute.Disk
	err := c.compute.Disks.List(project, zone).Pages(ctx, func(page *compute.DiskList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (c *apiClients) ListAddresses(ctx context.Context, project, region string) ([]*compute.Address, error) {
	var out []*compute.Address
	err := c.compute.Addresses.List(project, region).Pages(ctx, func(page *compute.AddressList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (c *apiClients) ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	var out []*compute.Instance
	err := c.compute.Instances.List(project, zone).Pages(ctx, func(page *compute.InstanceList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (c *apiClients) GetProject(ctx context.Context, projectID string) (*cloudresourcemanager.Project, error) {
	return c.projects.Projects.Get(projectID).Context(ctx).Do()
}
