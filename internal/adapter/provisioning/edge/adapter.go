package edge

import (
	"context"
	"fmt"

	"github.com/d3clan/dynamic-branch-env/internal/domain/provisioning"
	"github.com/d3clan/dynamic-branch-env/pkg/edgeclient"
)

// Adapter implements provisioning.LoadBalancer on the edge management API.
type Adapter struct {
	client *edgeclient.Client
}

func NewAdapter(client *edgeclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) CreateTarget(ctx context.Context, spec provisioning.TargetSpec) (string, error) {
	tg, err := a.client.CreateTargetGroup(ctx, edgeclient.CreateTargetGroupRequest{
		Name:          fmt.Sprintf("preview-%s-%s", spec.EnvironmentID, spec.ServiceID),
		Port:          spec.Port,
		HealthPath:    spec.HealthPath,
		EnvironmentID: spec.EnvironmentID,
		ServiceID:     spec.ServiceID,
	})
	if err != nil {
		return "", err
	}
	return tg.ID, nil
}

func (a *Adapter) CreateRule(ctx context.Context, domain string, match provisioning.RuleMatch, targetRef string, priority int) (string, error) {
	rule, err := a.client.CreateRule(ctx, edgeclient.CreateRuleRequest{
		ListenerName:  domain,
		Priority:      priority,
		HeaderName:    match.HeaderName,
		HeaderValue:   match.HeaderValue,
		PathPattern:   match.PathPattern,
		TargetGroupID: targetRef,
	})
	if err != nil {
		return "", err
	}
	return rule.ID, nil
}

func (a *Adapter) DeleteRule(ctx context.Context, domain, ruleRef string) error {
	return a.client.DeleteRule(ctx, domain, ruleRef)
}

func (a *Adapter) DeleteTarget(ctx context.Context, targetRef string) error {
	return a.client.DeleteTargetGroup(ctx, targetRef)
}
