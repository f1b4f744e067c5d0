package permissions

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

func decode(t *testing.T, data []byte) PolicyDocument {
	t.Helper()
	var doc PolicyDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Statement, 1)
	return doc
}

func TestCatalogCoversAWSTypes(t *testing.T) {
	for _, typ := range resource.TypesFor(resource.ProviderAWS) {
		assert.NotEmpty(t, Catalog[typ], "missing permissions for %s", typ)
	}
}

func TestGeneratePolicy_Selected(t *testing.T) {
	data, err := GeneratePolicy([]resource.Type{resource.EBSVolume}, false)
	require.NoError(t, err)

	doc := decode(t, data)
	assert.Equal(t, []string{
		"cloudwatch:GetMetricStatistics",
		"ec2:DescribeVolumes",
		"sts:GetCallerIdentity",
	}, doc.Statement[0].Action)
	assert.Equal(t, "Allow", doc.Statement[0].Effect)
}

func TestGeneratePolicy_AllReadOnly(t *testing.T) {
	data, err := GeneratePolicy(nil, true)
	require.NoError(t, err)

	doc := decode(t, data)
	assert.Contains(t, doc.Statement[0].Action, "pricing:GetProducts")
	assert.Contains(t, doc.Statement[0].Action, "elasticloadbalancing:DescribeTargetHealth")
	for _, a := range doc.Statement[0].Action {
		verb := a[strings.Index(a, ":")+1:]
		assert.Regexp(t, `^(Describe|Get|List|Lookup)`, verb, "mutating action %s", a)
	}
}

func TestGeneratePolicy_NonAWSType(t *testing.T) {
	_, err := GeneratePolicy([]resource.Type{resource.ManagedDisk}, false)
	assert.Error(t, err)
}
