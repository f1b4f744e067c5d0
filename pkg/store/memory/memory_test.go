package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
	"github.com/surpriz/cloud-waste-sub010/pkg/store/storetest"
)

func TestRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return New() })
}

func TestAccountsAndOverrides(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutAccount(resource.CloudAccount{ID: "a1", OwnerID: "o1", Provider: resource.ProviderAWS, Regions: []string{"us-east-1"}})
	days := 10
	s.PutRuleOverride(config.DetectionRule{OwnerID: "o1", ResourceType: resource.ElasticIP, MinAgeDays: &days})

	a, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, a.Regions)

	_, err = s.GetAccount(ctx, "a2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	r, err := s.GetRuleOverrides(ctx, "o1", resource.ElasticIP)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 10, *r.MinAgeDays)

	r, err = s.GetRuleOverrides(ctx, "o1", resource.EBSVolume)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCredentials(t *testing.T) {
	c := NewCredentials()
	c.Put("a1", resource.Credential{Provider: resource.ProviderAWS})

	cred, err := c.GetDecryptedCredential(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, resource.ProviderAWS, cred.Provider)

	_, err = c.GetDecryptedCredential(context.Background(), "a2")
	assert.ErrorIs(t, err, fault.ErrCredentialsInvalid)
}
