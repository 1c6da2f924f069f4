package ecs

import (
	"fmt"
	"slices"
)

// ResourceID identifies an asset owned by the resource manager.
type ResourceID uint64

// ResourceSet is an unordered set of resource ids.
type ResourceSet map[ResourceID]struct{}

func (s ResourceSet) Add(id ResourceID) {
	if id != 0 {
		s[id] = struct{}{}
	}
}

func (s ResourceSet) Has(id ResourceID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s ResourceSet) Sorted() []ResourceID {
	ids := make([]ResourceID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ResourceLoader is the resource manager seen from a world.
type ResourceLoader interface {
	IsLoaded(id ResourceID) bool
	Load(ids []ResourceID) error
}

// CollectResourceNeeds adds every resource the world references to set.
func (w *World) CollectResourceNeeds(set ResourceSet) {
	set.Add(w.gfx.SkyMaterial)
	set.Add(w.gfx.SkyModel)

	for _, user := range Implementing[ResourceUser](w) {
		user.CollectResources(set)
	}
}

// LoadMissingResources loads the world's referenced resources, plus extra,
// that the loader does not have yet. Calling it again without new references
// loads nothing. It returns how many resources were requested.
func (w *World) LoadMissingResources(extra ...ResourceID) (int, error) {
	if w.resources == nil {
		return 0, nil
	}

	set := make(ResourceSet)
	for _, id := range extra {
		set.Add(id)
	}
	w.CollectResourceNeeds(set)
	for _, id := range w.needed {
		set.Add(id)
	}

	missing := make([]ResourceID, 0)
	for _, id := range set.Sorted() {
		if !w.resources.IsLoaded(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if err := w.resources.Load(missing); err != nil {
		return 0, fmt.Errorf("load %d resources: %w", len(missing), err)
	}

	for _, id := range missing {
		if !slices.Contains(w.needed, id) {
			w.needed = append(w.needed, id)
		}
	}
	return len(missing), nil
}

// NeededResources returns the resources recorded by LoadMissingResources.
// The list is persisted with the world.
func (w *World) NeededResources() []ResourceID {
	return slices.Clone(w.needed)
}
