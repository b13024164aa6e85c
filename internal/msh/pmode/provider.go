// Package pmode exposes the slice of processing-mode configuration the
// lifecycle engine consumes: leg configurations, restore statuses and
// dispatch priorities. The full PMode resolver lives outside this core.
package pmode

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// StaticProvider serves leg configurations from an in-memory table with a
// per-provider default, keyed by tenant. It is the stand-in used until a
// dynamic PMode resolver is plugged in.
type StaticProvider struct {
	mu         sync.RWMutex
	defaultLeg domain.LegConfiguration
	perTenant  map[domain.Tenant]domain.LegConfiguration
}

// NewStaticProvider creates a provider answering every lookup with
// defaultLeg unless a tenant override is registered.
func NewStaticProvider(defaultLeg domain.LegConfiguration) *StaticProvider {
	return &StaticProvider{
		defaultLeg: defaultLeg,
		perTenant:  make(map[domain.Tenant]domain.LegConfiguration),
	}
}

// SetTenantLeg registers a tenant-specific leg configuration.
func (p *StaticProvider) SetTenantLeg(tenant domain.Tenant, leg domain.LegConfiguration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perTenant[tenant] = leg
}

// GetLegConfiguration returns the leg configuration governing the message.
func (p *StaticProvider) GetLegConfiguration(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (*domain.LegConfiguration, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if leg, ok := p.perTenant[tenant]; ok {
		return &leg, nil
	}
	leg := p.defaultLeg
	return &leg, nil
}

// RestoreStatusResolver decides the status a restored message re-enters
// from the MEP binding of its leg: pull legs go back to READY_TO_PULL,
// everything else to SEND_ENQUEUED.
type RestoreStatusResolver struct {
	legs   domain.LegConfigurationProvider
	logger *slog.Logger
}

// NewRestoreStatusResolver creates a new RestoreStatusResolver.
func NewRestoreStatusResolver(legs domain.LegConfigurationProvider, logger *slog.Logger) *RestoreStatusResolver {
	return &RestoreStatusResolver{legs: legs, logger: logger.With("component", "restore_status_resolver")}
}

// ResolveRestoreStatus implements domain.RestoreStatusResolver.
func (r *RestoreStatusResolver) ResolveRestoreStatus(ctx context.Context, tenant domain.Tenant, messageID string, role domain.MSHRole) (domain.MessageStatus, error) {
	leg, err := r.legs.GetLegConfiguration(ctx, tenant, messageID, role)
	if err != nil {
		return domain.StatusNotFound, err
	}
	if leg.MEPBinding == "pull" {
		r.logger.DebugContext(ctx, "Restore status resolved to pull", "message_id", messageID)
		return domain.StatusReadyToPull, nil
	}
	return domain.StatusSendEnqueued, nil
}
