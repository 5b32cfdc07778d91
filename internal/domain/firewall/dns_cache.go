package firewall

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// maxDNSCacheEntries bounds memory for a long-running process resolving
	// many distinct hostnames. REDESIGN: the original DNS resolver this is
	// grounded on caches without bound; gatekeep evicts the oldest entry
	// once the cap is hit.
	maxDNSCacheEntries = 1000

	// dnsCacheTTL is how long a resolution is trusted before a fresh lookup
	// is required.
	dnsCacheTTL = 10 * time.Minute
)

type dnsCacheEntry struct {
	ips      []net.IP
	cachedAt time.Time
}

func (e *dnsCacheEntry) expired(now time.Time) bool {
	return now.After(e.cachedAt.Add(dnsCacheTTL))
}

// DNSCache is a bounded, TTL-expiring cache of hostname resolutions. Unlike
// the per-request-pinning resolver it is grounded on, gatekeep has no
// notion of a request lifetime to pin against, so it caches by hostname
// only and caps total size instead.
type DNSCache struct {
	mu         sync.Mutex
	entries    map[string]*dnsCacheEntry
	order      []string // insertion order, for oldest-eviction
	lookupFunc func(ctx context.Context, host string) ([]net.IP, error)
	now        func() time.Time
}

// NewDNSCache creates a DNSCache using net.DefaultResolver.
func NewDNSCache() *DNSCache {
	return newDNSCache(defaultLookup, time.Now)
}

func newDNSCache(lookupFunc func(ctx context.Context, host string) ([]net.IP, error), now func() time.Time) *DNSCache {
	return &DNSCache{
		entries:    make(map[string]*dnsCacheEntry),
		lookupFunc: lookupFunc,
		now:        now,
	}
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", host)
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Resolve returns the cached IPs for host, performing and caching a fresh
// lookup if absent or expired.
func (c *DNSCache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	c.mu.Lock()
	now := c.now()
	if entry, ok := c.entries[host]; ok && !entry.expired(now) {
		ips := entry.ips
		c.mu.Unlock()
		return ips, nil
	}
	c.mu.Unlock()

	ips, err := c.lookupFunc(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.store(host, ips, now)
	c.mu.Unlock()

	return ips, nil
}

// store inserts a resolution, evicting the oldest entry if at capacity.
// Callers hold c.mu.
func (c *DNSCache) store(host string, ips []net.IP, now time.Time) {
	if _, exists := c.entries[host]; !exists {
		if len(c.order) >= maxDNSCacheEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, host)
	}
	c.entries[host] = &dnsCacheEntry{ips: ips, cachedAt: now}
}

// CleanExpired removes all expired entries. Intended to be called
// periodically by a background goroutine.
func (c *DNSCache) CleanExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.order[:0]
	for _, host := range c.order {
		if entry, ok := c.entries[host]; ok && entry.expired(now) {
			delete(c.entries, host)
			continue
		}
		kept = append(kept, host)
	}
	c.order = kept
}

// Size returns the number of cached hostnames.
func (c *DNSCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
