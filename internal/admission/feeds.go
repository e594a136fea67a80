package admission

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/source"
)

// AddFeedSubscription registers rawURL for tenant. The feed goes to
// destination, or to the tenant default when destination is empty. Checks
// run in order: destination, tenant cap, single-feed rule, destination cap.
// Nothing is stored unless all pass.
func (s *Service) AddFeedSubscription(ctx context.Context, tenant, rawURL, destination string) (store.FeedSubscription, error) {
	rawURL = strings.TrimSpace(rawURL)
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return store.FeedSubscription{}, fmt.Errorf("%w: %q must be an http(s) url", ErrInvalidURL, rawURL)
	}

	var added store.FeedSubscription
	err := s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		dest := strings.TrimSpace(destination)
		if dest == "" {
			dest = t.DefaultDestination
		}
		if dest == "" {
			return fmt.Errorf("%w: no destination given and no default destination set", ErrNoDestination)
		}

		limit := s.tenantLimit(t)
		if len(t.Feeds) >= limit {
			return fmt.Errorf("%w: this tenant has reached its limit of %d feeds", ErrTenantQuotaExceeded, limit)
		}

		settings := t.Destinations[dest]
		count := t.FeedsFor(dest)
		if !settings.MultipleAllowed() && count > 0 {
			return fmt.Errorf("%w: %s does not allow more than one feed", ErrMultipleNotAllowed, dest)
		}
		if settings.Limit != nil && count >= *settings.Limit {
			return fmt.Errorf("%w: %s has reached its limit of %d feeds", ErrDestinationQuotaExceeded, dest, *settings.Limit)
		}

		added = store.FeedSubscription{
			ID:          s.newID(),
			URL:         rawURL,
			Destination: dest,
			CreatedAt:   s.now().UTC(),
		}
		t.Feeds = append(t.Feeds, added)
		return nil
	})
	if err != nil {
		return store.FeedSubscription{}, err
	}

	s.log.Info().Str("tenant", tenant).Str("url", rawURL).Str("destination", added.Destination).Msg("feed added")
	return added, nil
}

func (s *Service) tenantLimit(t *store.TenantConfig) int {
	if t.FeedLimit > 0 {
		return t.FeedLimit
	}
	return s.maxFeeds
}

// RemoveFeedSubscription removes a feed addressed by ref: a 1-based display
// index, a subscription id, or a unique id prefix.
func (s *Service) RemoveFeedSubscription(ctx context.Context, tenant, ref string) (store.FeedSubscription, error) {
	var removed store.FeedSubscription
	err := s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		i, err := findFeed(t, ref)
		if err != nil {
			return err
		}
		removed = t.Feeds[i]
		t.Feeds = append(t.Feeds[:i], t.Feeds[i+1:]...)
		return nil
	})
	if err != nil {
		return store.FeedSubscription{}, err
	}
	s.log.Info().Str("tenant", tenant).Str("url", removed.URL).Msg("feed removed")
	return removed, nil
}

// RemoveFeedSubscriptionAt removes the feed at a 1-based display index.
func (s *Service) RemoveFeedSubscriptionAt(ctx context.Context, tenant string, index int) (store.FeedSubscription, error) {
	return s.RemoveFeedSubscription(ctx, tenant, strconv.Itoa(index))
}

// AddKeyword adds a filter keyword to a feed. Keywords are unique ignoring case.
func (s *Service) AddKeyword(ctx context.Context, tenant, ref, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return ErrEmptyKeyword
	}
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		i, err := findFeed(t, ref)
		if err != nil {
			return err
		}
		if source.IndexKeyword(t.Feeds[i].Keywords, keyword) >= 0 {
			return fmt.Errorf("%w: %q already filters feed #%d", ErrKeywordExists, keyword, i+1)
		}
		t.Feeds[i].Keywords = append(t.Feeds[i].Keywords, keyword)
		return nil
	})
}

// RemoveKeyword removes a keyword from a feed, ignoring case.
func (s *Service) RemoveKeyword(ctx context.Context, tenant, ref, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	return s.store.UpdateTenant(ctx, tenant, func(t *store.TenantConfig) error {
		i, err := findFeed(t, ref)
		if err != nil {
			return err
		}
		k := source.IndexKeyword(t.Feeds[i].Keywords, keyword)
		if k < 0 {
			return fmt.Errorf("%w: %q is not set on feed #%d", ErrKeywordNotFound, keyword, i+1)
		}
		kws := t.Feeds[i].Keywords
		t.Feeds[i].Keywords = append(kws[:k], kws[k+1:]...)
		return nil
	})
}

// Keywords lists a feed's keywords.
func (s *Service) Keywords(tenant, ref string) ([]string, error) {
	t, _ := s.store.Tenant(tenant)
	i, err := findFeed(&t, ref)
	if err != nil {
		return nil, err
	}
	return t.Feeds[i].Keywords, nil
}

// findFeed resolves ref against t's feeds.
func findFeed(t *store.TenantConfig, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(t.Feeds) {
			return 0, fmt.Errorf("%w: feed #%d does not exist, this tenant has %d feeds", ErrIndexOutOfRange, n, len(t.Feeds))
		}
		return n - 1, nil
	}

	match := -1
	for i, f := range t.Feeds {
		if f.ID == ref {
			return i, nil
		}
		if ref != "" && strings.HasPrefix(f.ID, ref) {
			if match >= 0 {
				return 0, fmt.Errorf("%w: feed id prefix %q is ambiguous", ErrNotFound, ref)
			}
			match = i
		}
	}
	if match < 0 {
		return 0, fmt.Errorf("%w: no feed %q", ErrNotFound, ref)
	}
	return match, nil
}
