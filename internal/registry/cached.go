package registry

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"layerlex/internal/domain"
	"layerlex/internal/extract"
)

// DefaultCacheSize is used when a non-positive size is configured
const DefaultCacheSize = 4096

type cacheKey struct {
	kind  domain.ComponentKind
	value string
}

// Cached memoizes a validator whose lookups are expensive (a remote registry,
// a database). It is safe for concurrent use.
type Cached struct {
	next   extract.Validator
	cache  *lru.Cache[cacheKey, bool]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// NewCached wraps next with an LRU cache holding up to size verdicts
func NewCached(next extract.Validator, size int) (*Cached, error) {
	if next == nil {
		return nil, errors.New("cached validator requires an underlying validator")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, bool](size)
	if err != nil {
		return nil, errors.Wrap(err, "creating validator cache")
	}
	return &Cached{next: next, cache: cache}, nil
}

// ValidateComponent returns the cached verdict or asks the wrapped validator
func (c *Cached) ValidateComponent(kind domain.ComponentKind, value string) bool {
	key := cacheKey{kind: kind, value: value}
	if ok, found := c.cache.Get(key); found {
		c.hits.Add(1)
		return ok
	}
	c.misses.Add(1)
	ok := c.next.ValidateComponent(kind, value)
	c.cache.Add(key, ok)
	return ok
}

// Stats returns hit and miss counters
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
}

// Live is a cached validator whose underlying validator can be replaced.
// Every Swap installs a fresh cache bound to the new validator, so a lookup
// still running against the old one can only write into the old cache.
type Live struct {
	size    int
	current atomic.Pointer[Cached]
}

// NewLive returns a Live validator over an empty vocabulary, which accepts
// every value until the first Swap
func NewLive(size int) (*Live, error) {
	l := &Live{size: size}
	if err := l.Swap(NewVocabulary(nil)); err != nil {
		return nil, err
	}
	return l, nil
}

// Swap installs next together with an empty cache
func (l *Live) Swap(next extract.Validator) error {
	c, err := NewCached(next, l.size)
	if err != nil {
		return err
	}
	l.current.Store(c)
	return nil
}

// ValidateComponent consults the current generation
func (l *Live) ValidateComponent(kind domain.ComponentKind, value string) bool {
	return l.current.Load().ValidateComponent(kind, value)
}

// Stats reports the counters of the current generation
func (l *Live) Stats() CacheStats {
	return l.current.Load().Stats()
}
