package ecs

import "sort"

// WorldStats is a point-in-time summary of a world, used by the debug UI and
// the stress tool.
type WorldStats struct {
	EntityCount     int
	FreeEntityIds   int
	RootCount       int
	CacheCount      int
	TotalComponents int
	Caches          []CacheStats
	SingletonCount  int
	SingletonTypes  []string
	PendingCommands int
	PlayMode        PlayMode
	PlayState       PlayState
	Elapsed         float64
}

// CacheStats describes one component cache.
type CacheStats struct {
	Name      string
	Count     int
	Capacity  int
	FreeSlots int
}

// CollectStats gathers WorldStats. Caches are listed in registration order.
func (w *World) CollectStats() WorldStats {
	stats := WorldStats{
		EntityCount:     w.entities.count,
		FreeEntityIds:   len(w.entities.freeList),
		RootCount:       len(w.roots),
		CacheCount:      len(w.caches),
		SingletonCount:  len(w.singletons),
		PendingCommands: w.pending.Len(),
		PlayMode:        w.mode,
		PlayState:       w.state,
		Elapsed:         w.elapsed,
	}

	for _, cache := range w.caches {
		cs := CacheStats{Name: cache.Name(), Count: cache.Len()}
		if sc, ok := cache.(interface{ capacity() (int, int) }); ok {
			cs.Capacity, cs.FreeSlots = sc.capacity()
		}
		stats.TotalComponents += cs.Count
		stats.Caches = append(stats.Caches, cs)
	}

	for t := range w.singletons {
		stats.SingletonTypes = append(stats.SingletonTypes, t.String())
	}
	sort.Strings(stats.SingletonTypes)
	return stats
}

func (c *ComponentCache[T]) capacity() (int, int) {
	return len(c.blocks) * cacheBlockSize, len(c.freeSlots)
}
