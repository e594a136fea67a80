package admission

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/elonfeng/pulsebot/internal/store"
)

// SetDefaultDestination sets where feeds without an override are delivered.
func (s *Service) SetDefaultDestination(ctx context.Context, tenant, destination string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return fmt.Errorf("%w: destination is empty", ErrNoDestination)
	}
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		t.DefaultDestination = destination
		return nil
	})
}

// SetFeedLimit overrides the tenant's feed cap, between 1 and MaxFeeds.
func (s *Service) SetFeedLimit(ctx context.Context, tenant string, limit int) error {
	if limit < 1 || limit > s.maxFeeds {
		return fmt.Errorf("%w: choose a number between 1 and %d", ErrInvalidLimit, s.maxFeeds)
	}
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		t.FeedLimit = limit
		return nil
	})
}

// SetPollInterval sets how often the tenant's feeds are polled. Zero
// clears the override.
func (s *Service) SetPollInterval(ctx context.Context, tenant string, d time.Duration) error {
	if d != 0 && d < MinPollInterval {
		return fmt.Errorf("%w: minimum poll interval is %s", ErrIntervalTooShort, MinPollInterval)
	}
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		t.PollIntervalMinutes = int(d / time.Minute)
		return nil
	})
}

// SetDestinationLimit caps how many feeds may target destination.
func (s *Service) SetDestinationLimit(ctx context.Context, tenant, destination string, limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative", ErrInvalidLimit)
	}
	return s.updateDestination(ctx, tenant, destination, func(d *store.DestinationSettings) {
		d.Limit = &limit
	})
}

// SetDestinationAllowMultiple sets whether destination accepts more than one feed.
func (s *Service) SetDestinationAllowMultiple(ctx context.Context, tenant, destination string, allow bool) error {
	return s.updateDestination(ctx, tenant, destination, func(d *store.DestinationSettings) {
		d.AllowMultiple = &allow
	})
}

func (s *Service) updateDestination(ctx context.Context, tenant, destination string, fn func(*store.DestinationSettings)) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return fmt.Errorf("%w: destination is empty", ErrNoDestination)
	}
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		if t.Destinations == nil {
			t.Destinations = make(map[string]store.DestinationSettings)
		}
		d := t.Destinations[destination]
		fn(&d)
		t.Destinations[destination] = d
		return nil
	})
}

// AddManager lets ref (an identity or role) manage the tenant's feeds.
func (s *Service) AddManager(ctx context.Context, tenant, ref string) error {
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		if slices.Contains(t.Managers, ref) {
			return fmt.Errorf("%w: %s can already manage feeds", ErrAlreadyManager, ref)
		}
		t.Managers = append(t.Managers, ref)
		return nil
	})
}

// RemoveManager revokes ref's management rights.
func (s *Service) RemoveManager(ctx context.Context, tenant, ref string) error {
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		i := slices.Index(t.Managers, ref)
		if i < 0 {
			return fmt.Errorf("%w: %s cannot manage feeds", ErrNotManager, ref)
		}
		t.Managers = slices.Delete(t.Managers, i, i+1)
		return nil
	})
}

// Managers lists the tenant's manager references.
func (s *Service) Managers(tenant string) []string {
	t, _ := s.store.Tenant(tenant)
	return t.Managers
}

// CanManage reports whether a caller may change the tenant's feeds:
// administrators always can, others need one of refs among the managers.
func (s *Service) CanManage(tenant string, isAdmin bool, refs ...string) bool {
	if isAdmin {
		return true
	}
	t, _ := s.store.Tenant(tenant)
	for _, r := range refs {
		if slices.Contains(t.Managers, r) {
			return true
		}
	}
	return false
}

// FeedView is a subscription as listed to users.
type FeedView struct {
	Index        int                    `json:"index"`
	Subscription store.FeedSubscription `json:"subscription"`
	Destination  string                 `json:"destination"`
}

// TenantSummary is the read-only listing of a tenant's feed setup.
type TenantSummary struct {
	ID                  string                               `json:"id"`
	DefaultDestination  string                               `json:"default_destination"`
	FeedLimit           int                                  `json:"feed_limit"`
	PollIntervalMinutes int                                  `json:"poll_interval_minutes,omitempty"`
	Feeds               []FeedView                           `json:"feeds"`
	Unrouted            []int                                `json:"unrouted,omitempty"`
	Destinations        map[string]store.DestinationSettings `json:"destinations,omitempty"`
	Managers            []string                             `json:"managers,omitempty"`
}

// Summary lists a tenant's configuration. Unrouted holds the display
// indices of feeds that currently resolve to no destination.
func (s *Service) Summary(tenant string) TenantSummary {
	t, _ := s.store.Tenant(tenant)
	out := TenantSummary{
		ID:                  tenant,
		DefaultDestination:  t.DefaultDestination,
		FeedLimit:           s.tenantLimit(&t),
		PollIntervalMinutes: t.PollIntervalMinutes,
		Feeds:               make([]FeedView, 0, len(t.Feeds)),
		Destinations:        t.Destinations,
		Managers:            t.Managers,
	}
	for i, f := range t.Feeds {
		dest := t.DestinationFor(f)
		out.Feeds = append(out.Feeds, FeedView{Index: i + 1, Subscription: f, Destination: dest})
		if dest == "" {
			out.Unrouted = append(out.Unrouted, i+1)
		}
	}
	return out
}
