package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// Credentials is a CredentialProvider over a map of already-decrypted
// credentials.
type Credentials struct {
	mu    sync.RWMutex
	creds map[string]resource.Credential
}

func NewCredentials() *Credentials {
	return &Credentials{creds: make(map[string]resource.Credential)}
}

func (c *Credentials) Put(accountID string, cred resource.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[accountID] = cred
}

// GetDecryptedCredential returns ErrCredentialsInvalid for unknown accounts.
func (c *Credentials) GetDecryptedCredential(ctx context.Context, accountID string) (resource.Credential, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.creds[accountID]
	if !ok {
		return resource.Credential{}, fmt.Errorf("no credential for account %s: %w", accountID, fault.ErrCredentialsInvalid)
	}
	return cred, nil
}

var _ store.CredentialProvider = (*Credentials)(nil)
