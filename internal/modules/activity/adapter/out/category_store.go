package out

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"dwell/internal/modules/activity/domain"
	activityout "dwell/internal/modules/activity/port/out"
)

// CachedCategoryStore memoizes category lookups for ttl.
type CachedCategoryStore struct {
	overrides map[string]string
	cache     *expirable.LRU[string, string]
}

func NewCachedCategoryStore(overrides map[string]string, size int, ttl time.Duration) *CachedCategoryStore {
	copied := make(map[string]string, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	return &CachedCategoryStore{
		overrides: copied,
		cache:     expirable.NewLRU[string, string](size, nil, ttl),
	}
}

var _ activityout.CategoryStore = (*CachedCategoryStore)(nil)

func (s *CachedCategoryStore) Category(_ context.Context, domainName string) (string, error) {
	if c, ok := s.cache.Get(domainName); ok {
		return c, nil
	}
	c := domain.CategoryFor(domainName, s.overrides)
	s.cache.Add(domainName, c)
	return c, nil
}

func (s *CachedCategoryStore) Len() int {
	return s.cache.Len()
}
