package m365

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

type staticToken struct{}

func (staticToken) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// newGraphServer serves two pages of users and one page of skus.
func newGraphServer(t *testing.T, usersStatus int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/organization":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]string{{"id": "tenant-1", "displayName": "Contoso"}},
			})
		case r.URL.Path == "/subscribedSkus":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"value": []map[string]string{{"skuId": "sku-e3", "skuPartNumber": "SPE_E3"}},
			})
		case r.URL.Path == "/users" && r.URL.Query().Get("page") == "2":
			_, _ = w.Write([]byte(`{"value":[{"id":"u2","displayName":"Never","userPrincipalName":"never@contoso.com",
				"createdDateTime":"2024-01-01T00:00:00Z","assignedLicenses":[{"skuId":"sku-e3"}]}]}`))
		case r.URL.Path == "/users":
			if usersStatus != http.StatusOK {
				w.WriteHeader(usersStatus)
				_, _ = w.Write([]byte(`{"error":{"code":"TooManyRequests","message":"slow down"}}`))
				return
			}
			next := srv.URL + "/users?page=2"
			_, _ = w.Write([]byte(`{"value":[{"id":"u1","displayName":"Active","accountEnabled":true,
				"createdDateTime":"2023-05-01T00:00:00Z","assignedLicenses":[{"skuId":"sku-e3"},{"skuId":"sku-unknown"}],
				"signInActivity":{"lastSignInDateTime":"2025-05-30T10:00:00Z"}}],
				"@odata.nextLink":"` + next + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	opts := &policy.ClientOptions{
		Transport: srv.Client(),
		Retry:     policy.RetryOptions{MaxRetries: -1},
	}
	return NewAdapter("tenant-1", NewGraphClient(staticToken{}, srv.URL, opts))
}

func TestValidateCredentials(t *testing.T) {
	a := newTestAdapter(newGraphServer(t, http.StatusOK))
	id, err := a.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", id.AccountID)
	assert.Equal(t, "Contoso", id.DisplayName)
}

func TestListResources_FollowsNextLink(t *testing.T) {
	a := newTestAdapter(newGraphServer(t, http.StatusOK))
	got, err := a.ListResources(context.Background(), resource.M365License, Region)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "u1/SPE_E3", got[0].ID)
	assert.Equal(t, "SPE_E3", got[0].String(resource.AttrSKU))
	assert.True(t, got[0].Bool(resource.AttrSignedIn))
	assert.Equal(t, time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC), got[0].LastActiveAt)

	assert.True(t, strings.HasSuffix(got[1].ID, "/sku-unknown"))

	assert.Equal(t, "u2/SPE_E3", got[2].ID)
	assert.False(t, got[2].Bool(resource.AttrSignedIn))
	assert.True(t, got[2].LastActiveAt.IsZero())
	assert.True(t, got[2].Bool(resource.AttrAccountEnabled))
}

func TestListResources_Throttled(t *testing.T) {
	a := newTestAdapter(newGraphServer(t, http.StatusTooManyRequests))
	_, err := a.ListResources(context.Background(), resource.M365License, Region)
	require.Error(t, err)
	assert.True(t, fault.Retryable(err))
}

func TestListResources_OtherType(t *testing.T) {
	a := NewAdapter("tenant-1", nil)
	_, err := a.ListResources(context.Background(), resource.ManagedDisk, Region)
	assert.ErrorIs(t, err, fault.ErrUnsupported)
}
