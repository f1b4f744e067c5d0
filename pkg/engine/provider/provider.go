// Package provider defines the adapter contract every cloud provider implements
// and the registry that selects an adapter by provider tag.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Identity is the principal resolved by credential validation.
type Identity struct {
	Provider    resource.Provider
	AccountID   string
	DisplayName string
}

// Adapter enumerates resources of one provider. Implementations consume
// pagination internally and classify errors with the fault package.
type Adapter interface {
	metrics.Fetcher

	Provider() resource.Provider
	// ValidateCredentials resolves the caller identity.
	ValidateCredentials(ctx context.Context) (Identity, error)
	// ListResources returns every resource of type t in region.
	ListResources(ctx context.Context, t resource.Type, region string) ([]resource.Candidate, error)
}

// Factory builds an adapter for a decrypted credential.
type Factory func(ctx context.Context, cred resource.Credential) (Adapter, error)

// Registry maps provider tags to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[resource.Provider]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[resource.Provider]Factory),
	}
}

// Register adds a factory. Registering a tag twice replaces the factory.
func (r *Registry) Register(p resource.Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// New builds the adapter for cred.Provider.
func (r *Registry) New(ctx context.Context, cred resource.Credential) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[cred.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", cred.Provider)
	}
	return f(ctx, cred)
}

// Providers lists the registered tags in stable order.
func (r *Registry) Providers() []resource.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]resource.Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Types returns the resource types that can be scanned for the registered providers.
func (r *Registry) Types() []resource.Type {
	var out []resource.Type
	for _, p := range r.Providers() {
		out = append(out, resource.TypesFor(p)...)
	}
	return out
}
