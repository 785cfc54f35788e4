package storage

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/NethermindEth/chaoschain-persona/core"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 10 * time.Minute
)

// ProfileCache is an expiring LRU of decoded profiles. A nil cache is valid
// and caches nothing.
type ProfileCache struct {
	lru *expirable.LRU[string, core.PersonaProfile]
}

func NewProfileCache(size int, ttl time.Duration) *ProfileCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ProfileCache{lru: expirable.NewLRU[string, core.PersonaProfile](size, nil, ttl)}
}

// Get returns a copy so callers cannot alias the cached evidence slice.
func (c *ProfileCache) Get(owner string) (core.PersonaProfile, bool) {
	if c == nil {
		return core.PersonaProfile{}, false
	}
	p, ok := c.lru.Get(owner)
	if !ok {
		return core.PersonaProfile{}, false
	}
	return p.Clone(), true
}

func (c *ProfileCache) Add(owner string, p core.PersonaProfile) {
	if c == nil {
		return
	}
	c.lru.Add(owner, p.Clone())
}

func (c *ProfileCache) Remove(owner string) {
	if c == nil {
		return
	}
	c.lru.Remove(owner)
}

func (c *ProfileCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
