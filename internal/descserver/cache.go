// Package descserver implements the minimal HTTP/1.1 description responder
// and the lazily-populated content cache that backs it.
package descserver

import (
	"sync"

	"github.com/halvorsen/upnpnode/internal/location"
	"github.com/halvorsen/upnpnode/internal/metrics"
)

// DescriptorLookup finds the LocationDescriptor, among currently published
// messages, whose Name() matches a requested resource name.
type DescriptorLookup interface {
	FindDescriptor(name string) (location.Descriptor, bool)
}

type cacheEntry struct {
	data    []byte
	missing bool
}

// ContentCache lazily populates description bytes keyed by resource name
// (a URL path with its leading slashes stripped). A fetch failure, or no
// matching descriptor, is cached as "missing" so repeated requests for a
// bad name don't re-scan the published set or re-invoke Content().
// Concurrent requests for the same key are serialized (single-flight);
// requests for different keys never block one another.
type ContentCache struct {
	lookup  DescriptorLookup
	metrics *metrics.Registry

	mu      sync.Mutex
	entries map[string]*cacheEntry
	pending map[string]chan struct{}
}

// NewContentCache returns an empty cache backed by lookup.
func NewContentCache(lookup DescriptorLookup, m *metrics.Registry) *ContentCache {
	return &ContentCache{
		lookup:  lookup,
		metrics: m,
		entries: make(map[string]*cacheEntry),
		pending: make(map[string]chan struct{}),
	}
}

// Get returns the description bytes for name and true on a cache or fetch
// hit, or (nil, false) if name is cached-missing or has no matching
// descriptor (and caches that outcome for next time).
func (c *ContentCache) Get(name string) ([]byte, bool) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[name]; ok {
			c.mu.Unlock()
			if e.missing {
				if c.metrics != nil {
					c.metrics.CacheNegative.Inc()
				}
				return nil, false
			}
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return e.data, true
		}
		if ch, ok := c.pending[name]; ok {
			c.mu.Unlock()
			<-ch
			continue // another goroutine just populated this key; re-check entries
		}

		ch := make(chan struct{})
		c.pending[name] = ch
		c.mu.Unlock()

		data, found := c.fetch(name)

		c.mu.Lock()
		delete(c.pending, name)
		c.entries[name] = &cacheEntry{data: data, missing: !found}
		c.mu.Unlock()
		close(ch)

		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		if !found {
			return nil, false
		}
		return data, true
	}
}

func (c *ContentCache) fetch(name string) ([]byte, bool) {
	desc, ok := c.lookup.FindDescriptor(name)
	if !ok {
		return nil, false
	}
	data, err := desc.Content()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Reset clears every cached entry, per the programmatic surface's reset().
func (c *ContentCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
