package debugui

import "github.com/plus3/lumen/ecs"

// WorldBrowser lists a world's entity tree with a text filter and paging.
type WorldBrowser struct {
	cache              *worldBrowserCache
	selectedEntityId   ecs.EntityId
	filterText         string
	maxEntitiesPerPage int
	currentPage        int
}

// ComponentInspector shows and edits the components of one entity.
type ComponentInspector struct {
	selectedEntityId ecs.EntityId
}

// CacheViewer shows how full each component cache is.
type CacheViewer struct {
	rows          []CacheRow
	sortColumn    int
	sortAscending bool
}

// PerformanceStats graphs frame times next to world, scheduler and engine
// counters.
type PerformanceStats struct {
	historyFrames int
	frameHistory  []float32
	frameIndex    int
	filled        int
}

// DrawPassViewer lists the instanced batches of a world renderer's passes.
type DrawPassViewer struct {
	selectedPass int
}
