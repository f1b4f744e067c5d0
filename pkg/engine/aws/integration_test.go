//go:build integration

package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// TestListVolumes_LocalStack seeds an unattached volume in LocalStack and
// lists it through the adapter. Requires Docker.
func TestListVolumes_LocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.0")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
	require.NoError(t, err)
	t.Setenv("AWS_ENDPOINT_URL", endpoint)

	cfg, err := LoadConfig(ctx, "us-east-1", &resource.AWSCredential{
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	}, nil)
	require.NoError(t, err)

	seed := ec2.NewFromConfig(cfg)
	out, err := seed.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String("us-east-1a"),
		Size:             aws.Int32(20),
		VolumeType:       types.VolumeTypeGp3,
	})
	require.NoError(t, err)
	volumeID := aws.ToString(out.VolumeId)

	a := NewAdapter(cfg)
	got, err := a.ListResources(ctx, resource.EBSVolume, "us-east-1")
	require.NoError(t, err)

	var found *resource.Candidate
	for i := range got {
		if got[i].ID == volumeID {
			found = &got[i]
		}
	}
	require.NotNil(t, found, "seeded volume %s not listed", volumeID)
	assert.False(t, found.Bool(resource.AttrAttached))
	assert.Equal(t, 20.0, found.Float(resource.AttrSizeGB))
}
