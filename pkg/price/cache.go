package price

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedValidator remembers existence answers so repeated alert creation for
// the same asset does not hit the upstream every time. Errors are not cached.
type CachedValidator struct {
	next  Validator
	cache *gocache.Cache
}

// NewCachedValidator wraps next with a cache of the given TTL.
func NewCachedValidator(next Validator, ttl time.Duration) *CachedValidator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedValidator{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (v *CachedValidator) Exists(ctx context.Context, id string) (bool, error) {
	key := NormalizeID(id)
	if hit, ok := v.cache.Get(key); ok {
		return hit.(bool), nil
	}
	ok, err := v.next.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	v.cache.SetDefault(key, ok)
	return ok, nil
}
