package gcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

type mockCompute struct {
	ListZonesFunc     func(ctx context.Context, project, region string) ([]string, error)
	ListDisksFunc     func(ctx context.Context, project, zone string) ([]*compute.Disk, error)
	ListAddressesFunc func(ctx context.Context, project, region string) ([]*compute.Address, error)
	ListInstancesFunc func(ctx context.Context, project, zone string) ([]*compute.Instance, error)
}

func (m *mockCompute) ListZones(ctx context.Context, project, region string) ([]string, error) {
	if m.ListZonesFunc != nil {
		return m.ListZonesFunc(ctx, project, region)
	}
	return []string{region + "-a"}, nil
}

func (m *mockCompute) ListDisks(ctx context.Context, project, zone string) ([]*compute.Disk, error) {
	if m.ListDisksFunc != nil {
		return m.ListDisksFunc(ctx, project, zone)
	}
	return nil, nil
}

func (m *mockCompute) ListAddresses(ctx context.Context, project, region string) ([]*compute.Address, error) {
	if m.ListAddressesFunc != nil {
		return m.ListAddressesFunc(ctx, project, region)
	}
	return nil, nil
}

func (m *mockCompute) ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	if m.ListInstancesFunc != nil {
		return m.ListInstancesFunc(ctx, project, zone)
	}
	return nil, nil
}

type mockProjects struct {
	GetProjectFunc func(ctx context.Context, id string) (*cloudresourcemanager.Project, error)
}

func (m *mockProjects) GetProject(ctx context.Context, id string) (*cloudresourcemanager.Project, error) {
	return m.GetProjectFunc(ctx, id)
}

func TestValidateCredentials(t *testing.T) {
	projects := &mockProjects{GetProjectFunc: func(_ context.Context, id string) (*cloudresourcemanager.Project, error) {
		return &cloudresourcemanager.Project{ProjectId: id, Name: "Analytics"}, nil
	}}
	a := NewAdapter("analytics-prod", &mockCompute{}, projects)

	id, err := a.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analytics-prod", id.AccountID)
	assert.Equal(t, "Analytics", id.DisplayName)

	projects.GetProjectFunc = func(context.Context, string) (*cloudresourcemanager.Project, error) {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	}
	_, err = a.ValidateCredentials(context.Background())
	assert.True(t, fault.Fatal(err))
}

func TestListDisks_AcrossZones(t *testing.T) {
	c := &mockCompute{
		ListZonesFunc: func(_ context.Context, _, region string) ([]string, error) {
			assert.Equal(t, "us-central1", region)
			return []string{"us-central1-a", "us-central1-b"}, nil
		},
		ListDisksFunc: func(_ context.Context, _, zone string) ([]*compute.Disk, error) {
			if zone == "us-central1-a" {
				return []*compute.Disk{{
					Name: "scratch", SelfLink: "https://compute.googleapis.com/compute/v1/projects/p/zones/us-central1-a/disks/scratch",
					SizeGb: 200, Type: "https://compute.googleapis.com/compute/v1/projects/p/zones/us-central1-a/diskTypes/pd-ssd",
					CreationTimestamp: "2025-01-01T00:00:00.000-08:00", LastDetachTimestamp: "2025-02-01T00:00:00Z", Status: "READY",
				}}, nil
			}
			return []*compute.Disk{{
				Name: "boot", SizeGb: 10, Users: []string{"https://compute.googleapis.com/compute/v1/projects/p/zones/us-central1-b/instances/web"},
			}}, nil
		},
	}
	a := NewAdapter("p", c, nil)

	got, err := a.ListResources(context.Background(), resource.PersistentDisk, "us-central1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.False(t, got[0].Bool(resource.AttrAttached))
	assert.Equal(t, "pd-ssd", got[0].String(resource.AttrVolumeType))
	assert.Equal(t, 200.0, got[0].Float(resource.AttrSizeGB))
	assert.Equal(t, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), got[0].CreatedAt)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), got[0].LastActiveAt)

	assert.True(t, got[1].Bool(resource.AttrAttached))
	assert.Equal(t, "web", got[1].String(resource.AttrAttachedInstance))
	assert.Equal(t, "boot", got[1].ID)
}

func TestListAddresses(t *testing.T) {
	c := &mockCompute{ListAddressesFunc: func(context.Context, string, string) ([]*compute.Address, error) {
		return []*compute.Address{
			{Name: "reserved", Address: "34.1.1.1", Status: "RESERVED", AddressType: "EXTERNAL"},
			{Name: "used", Address: "34.1.1.2", Status: "IN_USE", Users: []string{"fwd-rule"}},
			{Name: "internal", Address: "10.0.0.5", Status: "RESERVED", AddressType: "INTERNAL"},
		}, nil
	}}
	got, err := NewAdapter("p", c, nil).ListResources(context.Background(), resource.StaticIP, "europe-west1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Bool(resource.AttrAssociated))
	assert.True(t, got[1].Bool(resource.AttrAssociated))
}

func TestListInstances_Terminated(t *testing.T) {
	c := &mockCompute{ListInstancesFunc: func(context.Context, string, string) ([]*compute.Instance, error) {
		return []*compute.Instance{{
			Name: "batch", Status: "TERMINATED", MachineType: "zones/us-east1-b/machineTypes/n2-standard-4",
			LastStopTimestamp: "2025-03-10T12:00:00Z",
			Disks:             []*compute.AttachedDisk{{DiskSizeGb: 50}, {DiskSizeGb: 25}},
		}}, nil
	}}
	got, err := NewAdapter("p", c, nil).ListResources(context.Background(), resource.ComputeInstance, "us-east1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "TERMINATED", got[0].String(resource.AttrState))
	assert.Equal(t, "n2-standard-4", got[0].String(resource.AttrInstanceType))
	assert.Equal(t, 75.0, got[0].Float(resource.AttrAttachedStorageGB))
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), got[0].LastActiveAt)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthenticated", &googleapi.Error{Code: 401}, fault.ErrCredentialsInvalid},
		{"rate limited", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, fault.ErrThrottled},
		{"api disabled", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "accessNotConfigured"}}}, fault.ErrUnsupported},
		{"backend", &googleapi.Error{Code: 503}, fault.ErrTransientNetwork},
		{"forbidden", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fault.KindOf(classify("Op", tt.err)))
		})
	}

	_, err := NewAdapter("p", &mockCompute{}, nil).ListResources(context.Background(), resource.EBSVolume, "us-east1")
	assert.True(t, errors.Is(err, fault.ErrUnsupported))
}
