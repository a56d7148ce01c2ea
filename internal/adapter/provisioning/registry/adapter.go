package registry

import (
	"context"

	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/pkg/registryclient"
)

// Adapter implements provisioning.ServiceRegistry on the discovery registry.
type Adapter struct {
	client *registryclient.Client
}

func NewAdapter(client *registryclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Register(ctx context.Context, spec provisioning.RegistrySpec) (string, error) {
	return a.client.Register(ctx, registryclient.Service{
		EnvironmentID: spec.EnvironmentID,
		ServiceID:     spec.ServiceID,
		Address:       spec.Address,
		Port:          spec.Port,
	})
}

func (a *Adapter) Deregister(ctx context.Context, registryRef string) error {
	return a.client.Deregister(ctx, registryRef)
}
