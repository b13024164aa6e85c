package pmode

import (
	"context"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// DefaultPriority is used when no rule matches a service/action pair.
const DefaultPriority = 4

// PriorityRule maps a service/action pair to a dispatch priority. An empty
// Service or Action matches anything.
type PriorityRule struct {
	Service  string
	Action   string
	Priority int
}

// RulePriorityResolver resolves dispatch priorities from an ordered rule
// list; the first matching rule wins.
type RulePriorityResolver struct {
	rules []PriorityRule
}

// NewRulePriorityResolver creates a new RulePriorityResolver.
func NewRulePriorityResolver(rules []PriorityRule) *RulePriorityResolver {
	return &RulePriorityResolver{rules: rules}
}

// Priority implements domain.PriorityResolver.
func (r *RulePriorityResolver) Priority(ctx context.Context, tenant domain.Tenant, service, action string) (int, error) {
	for _, rule := range r.rules {
		if rule.Service != "" && rule.Service != service {
			continue
		}
		if rule.Action != "" && rule.Action != action {
			continue
		}
		return rule.Priority, nil
	}
	return DefaultPriority, nil
}
