package store

import (
	"sync"
)

// GroupCache is the process-local view of which groups are enabled and
// which members are banned. It replaces ambient globals: owned here,
// passed by reference into the scheduler and handlers, refreshed on the
// reload event and the config-store record hooks.
type GroupCache struct {
	mu      sync.RWMutex
	enabled map[string]struct{}
	banned  map[string]map[string]struct{} // group -> member set
}

func NewGroupCache() *GroupCache {
	return &GroupCache{
		enabled: make(map[string]struct{}),
		banned:  make(map[string]map[string]struct{}),
	}
}

// Reload replaces the whole cache in one swap.
func (c *GroupCache) Reload(groups []string, banned map[string][]string) {
	enabled := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		enabled[g] = struct{}{}
	}
	bannedSet := make(map[string]map[string]struct{}, len(banned))
	for g, members := range banned {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		bannedSet[g] = set
	}

	c.mu.Lock()
	c.enabled = enabled
	c.banned = bannedSet
	c.mu.Unlock()
}

func (c *GroupCache) Enable(group string) {
	c.mu.Lock()
	c.enabled[group] = struct{}{}
	c.mu.Unlock()
}

func (c *GroupCache) Disable(group string) {
	c.mu.Lock()
	delete(c.enabled, group)
	c.mu.Unlock()
}

func (c *GroupCache) Enabled(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.enabled[group]
	return ok
}

func (c *GroupCache) EnabledGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups := make([]string, 0, len(c.enabled))
	for g := range c.enabled {
		groups = append(groups, g)
	}
	return groups
}

func (c *GroupCache) Ban(group, member string) {
	c.mu.Lock()
	if c.banned[group] == nil {
		c.banned[group] = make(map[string]struct{})
	}
	c.banned[group][member] = struct{}{}
	c.mu.Unlock()
}

func (c *GroupCache) Unban(group, member string) {
	c.mu.Lock()
	delete(c.banned[group], member)
	c.mu.Unlock()
}

func (c *GroupCache) Banned(group, member string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.banned[group][member]
	return ok
}
