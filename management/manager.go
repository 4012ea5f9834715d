// Package management provisions hybrid connections in an Azure Relay
// namespace through the ARM API. It is control-plane only: the relay package
// never depends on it, and a namespace managed by other means works just as
// well.
package management

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/relay/armrelay"
)

// Manager handles hybrid connection provisioning for one relay namespace
type Manager struct {
	client            *armrelay.HybridConnectionsClient
	subscriptionID    string
	resourceGroupName string
	namespaceName     string
}

// ManagerOptions contains configuration for the Manager
type ManagerOptions struct {
	// SubscriptionID is the Azure subscription ID
	SubscriptionID string

	// ResourceGroupName is the name of the resource group containing the
	// relay namespace
	ResourceGroupName string

	// NamespaceName is the name of the relay namespace
	NamespaceName string

	// Credential is the Azure credential to use (optional, defaults to
	// DefaultAzureCredential)
	Credential azcore.TokenCredential
}

// NewManager creates a new Manager
func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription ID is required")
	}
	if opts.ResourceGroupName == "" {
		return nil, fmt.Errorf("resource group name is required")
	}
	if opts.NamespaceName == "" {
		return nil, fmt.Errorf("namespace name is required")
	}

	credential := opts.Credential
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		credential = cred
	}

	hcClient, err := armrelay.NewHybridConnectionsClient(opts.SubscriptionID, credential, &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Logging: policy.LogOptions{IncludeBody: true},
			PerCallPolicies: []policy.Policy{
				newRequestIDPolicy(""),
				newUserAgentPolicy(""),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid connections client: %w", err)
	}

	return &Manager{
		client:            hcClient,
		subscriptionID:    opts.SubscriptionID,
		resourceGroupName: opts.ResourceGroupName,
		namespaceName:     opts.NamespaceName,
	}, nil
}

// CreateHybridConnection creates or updates a hybrid connection in the
// namespace. Client authorization is left off so namespace-level SAS tokens
// are accepted for both listen and send.
func (m *Manager) CreateHybridConnection(ctx context.Context, name string) error {
	props := armrelay.HybridConnection{
		Properties: &armrelay.HybridConnectionProperties{
			RequiresClientAuthorization: ptr(false),
		},
	}

	_, err := m.client.CreateOrUpdate(ctx, m.resourceGroupName, m.namespaceName, name, props, nil)
	if err != nil {
		return fmt.Errorf("failed to create hybrid connection %s: %w", name, err)
	}
	return nil
}

// DeleteHybridConnection deletes a hybrid connection from the namespace
func (m *Manager) DeleteHybridConnection(ctx context.Context, name string) error {
	_, err := m.client.Delete(ctx, m.resourceGroupName, m.namespaceName, name, nil)
	if err != nil {
		return fmt.Errorf("failed to delete hybrid connection %s: %w", name, err)
	}
	return nil
}

// ListHybridConnections returns the names of all hybrid connections in the
// namespace
func (m *Manager) ListHybridConnections(ctx context.Context) ([]string, error) {
	var names []string
	pager := m.client.NewListByNamespacePager(m.resourceGroupName, m.namespaceName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hybrid connections: %w", err)
		}
		for _, hc := range page.Value {
			if hc.Name != nil {
				names = append(names, *hc.Name)
			}
		}
	}
	return names, nil
}

// ptr is a helper function to get a pointer to a value
func ptr[T any](v T) *T {
	return &v
}
