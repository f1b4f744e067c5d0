//go:build e2e

package e2e

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

// createTable creates the single findings table used by the dynamodb store.
func createTable(t *testing.T, ctx context.Context, name string) {
	t.Helper()
	client := dynamodb.NewFromConfig(awsCfg)
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	require.NoError(t, err)

	waiter := dynamodb.NewTableExistsWaiter(client)
	require.NoError(t, waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 30e9))
}

func createVolume(t *testing.T, ctx context.Context, sizeGB int32) string {
	t.Helper()
	out, err := ec2.NewFromConfig(awsCfg).CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String("us-east-1a"),
		Size:             aws.Int32(sizeGB),
		VolumeType:       ec2types.VolumeTypeGp3,
	})
	require.NoError(t, err)
	return aws.ToString(out.VolumeId)
}

func deleteVolume(t *testing.T, ctx context.Context, id string) {
	t.Helper()
	_, err := ec2.NewFromConfig(awsCfg).DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
	require.NoError(t, err)
}

func createBucket(t *testing.T, ctx context.Context, name string) {
	t.Helper()
	_, err := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true }).
		CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	require.NoError(t, err)
}
