package m365

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/azure"
	"github.com/surpriz/cloud-waste-sub010/pkg/version"
)

const (
	// DefaultEndpoint is the Microsoft Graph v1.0 root.
	DefaultEndpoint = "https://graph.microsoft.com/v1.0"
	graphScope      = "https://graph.microsoft.com/.default"
)

// User is the subset of the Graph user resource the adapter reads.
type User struct {
	ID                string            `json:"id"`
	DisplayName       string            `json:"displayName"`
	UserPrincipalName string            `json:"userPrincipalName"`
	AccountEnabled    *bool             `json:"accountEnabled"`
	CreatedDateTime   *time.Time        `json:"createdDateTime"`
	AssignedLicenses  []AssignedLicense `json:"assignedLicenses"`
	SignInActivity    *SignInActivity   `json:"signInActivity"`
}

type AssignedLicense struct {
	SkuID string `json:"skuId"`
}

type SignInActivity struct {
	LastSignInDateTime *time.Time `json:"lastSignInDateTime"`
}

// SubscribedSku maps a license id to its part number ("SPE_E3").
type SubscribedSku struct {
	SkuID         string `json:"skuId"`
	SkuPartNumber string `json:"skuPartNumber"`
}

type Organization struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// GraphAPI is the read-only Graph surface used by the adapter.
type GraphAPI interface {
	GetOrganization(ctx context.Context) (Organization, error)
	ListSubscribedSkus(ctx context.Context) ([]SubscribedSku, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// GraphClient calls Microsoft Graph through an azcore pipeline with a bearer
// token policy.
type GraphClient struct {
	endpoint string
	pipeline runtime.Pipeline
}

// NewGraphClient creates a client. options may carry a custom transport.
func NewGraphClient(cred azcore.TokenCredential, endpoint string, options *policy.ClientOptions) *GraphClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if options == nil {
		o := azure.ClientOptions()
		options = &o
	}
	pl := runtime.NewPipeline("cloudwaste-m365", version.Current, runtime.PipelineOptions{
		PerRetry: []policy.Policy{runtime.NewBearerTokenPolicy(cred, []string{graphScope}, nil)},
	}, options)
	return &GraphClient{endpoint: endpoint, pipeline: pl}
}

func (c *GraphClient) GetOrganization(ctx context.Context) (Organization, error) {
	var p page[Organization]
	if err := c.get(ctx, c.endpoint+"/organization?$select=id,displayName", &p); err != nil {
		return Organization{}, err
	}
	if len(p.Value) == 0 {
		return Organization{}, fmt.Errorf("no organization returned")
	}
	return p.Value[0], nil
}

func (c *GraphClient) ListSubscribedSkus(ctx context.Context) ([]SubscribedSku, error) {
	return collect[SubscribedSku](ctx, c, c.endpoint+"/subscribedSkus?$select=skuId,skuPartNumber")
}

func (c *GraphClient) ListUsers(ctx context.Context) ([]User, error) {
	q := url.Values{}
	q.Set("$select", "id,displayName,userPrincipalName,accountEnabled,createdDateTime,assignedLicenses,signInActivity")
	q.Set("$top", "999")
	return collect[User](ctx, c, c.endpoint+"/users?"+q.Encode())
}

// collect follows @odata.nextLink until the last page.
func collect[T any](ctx context.Context, c *GraphClient, next string) ([]T, error) {
	var out []T
	for next != "" {
		var p page[T]
		if err := c.get(ctx, next, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Value...)
		next = p.NextLink
	}
	return out, nil
}

func (c *GraphClient) get(ctx context.Context, endpoint string, v interface{}) error {
	req, err := runtime.NewRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	req.Raw().Header.Set("Accept", "application/json")
	resp, err := c.pipeline.Do(req)
	if err != nil {
		return err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return runtime.NewResponseError(resp)
	}
	return runtime.UnmarshalAsJSON(resp, v)
}
