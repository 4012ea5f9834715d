package sas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// relayScope is the Azure AD scope for Service Bus / Relay resources. The
// scope is fixed per service, not per entity, so one provider serves every
// audience in a namespace.
const relayScope = "https://servicebus.azure.net/.default"

// refreshMargin is how long before expiry a cached token is refreshed.
const refreshMargin = 5 * time.Minute

// AADTokenProvider mints Azure AD bearer tokens for relay establishment.
// Tokens are cached and refreshed proactively before expiry.
type AADTokenProvider struct {
	credential azcore.TokenCredential
	mu         sync.RWMutex
	token      *azcore.AccessToken
}

// NewAADTokenProvider creates a provider using DefaultAzureCredential, which
// tries managed identity, environment variables, the Azure CLI, and the
// other standard credential sources in turn.
func NewAADTokenProvider() (*AADTokenProvider, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}
	return &AADTokenProvider{credential: credential}, nil
}

// NewAADTokenProviderWithCredential creates a provider using an explicit
// credential.
func NewAADTokenProviderWithCredential(credential azcore.TokenCredential) *AADTokenProvider {
	return &AADTokenProvider{credential: credential}
}

// GetToken returns a valid Azure AD access token, reusing the cached one
// while it has more than the refresh margin remaining. The audience argument
// is accepted for interface compatibility; Azure AD scoping is per service.
func (p *AADTokenProvider) GetToken(ctx context.Context, audience string) (string, error) {
	p.mu.RLock()
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		token := p.token.Token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while this one waited for the lock.
	if p.token != nil && time.Until(p.token.ExpiresOn) > refreshMargin {
		return p.token.Token, nil
	}

	tokenResponse, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{relayScope},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	p.token = &tokenResponse
	return tokenResponse.Token, nil
}
