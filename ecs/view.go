package ecs

import (
	"iter"
	"reflect"
	"unsafe"
)

// View represents a query for entities with a specific combination of components.
// The type T should be a struct with embedded or named pointer fields, one per
// component type. Named fields can be marked as optional using the
// `ecs:"optional"` struct tag.
type View[T any] struct {
	world       *World
	types       []reflect.Type
	caches      []componentCache
	optional    []bool
	fieldOffset []uintptr
}

// NewView creates a new view for the given struct type. Every component type
// in T must be registered with the world's registry.
func NewView[T any](world *World) *View[T] {
	structType := reflect.TypeFor[T]()
	if structType.Kind() != reflect.Struct {
		panic("View type parameter must be a struct")
	}

	v := &View[T]{world: world}
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.Type.Kind() != reflect.Ptr {
			panic("View struct fields must be pointer types")
		}

		// Embedded fields are always required
		isOptional := false
		if !field.Anonymous {
			if tag := field.Tag.Get("ecs"); tag != "" {
				if tag != "optional" {
					panic("invalid ecs tag value: \"" + tag + "\" (only \"optional\" is supported)")
				}
				isOptional = true
			}
		}

		componentType := field.Type.Elem()
		v.types = append(v.types, componentType)
		v.caches = append(v.caches, world.cacheFor(componentType))
		v.optional = append(v.optional, isOptional)
		v.fieldOffset = append(v.fieldOffset, field.Offset)
	}
	return v
}

// Fill populates ptr with the entity's components. It returns false if the
// entity is missing a required component; missing optional fields are nil.
func (v *View[T]) Fill(id EntityId, ptr *T) bool {
	structPtr := unsafe.Pointer(ptr)

	for i, cache := range v.caches {
		fieldPtr := unsafe.Pointer(uintptr(structPtr) + v.fieldOffset[i])

		component := cache.getAny(id)
		if component == nil {
			if !v.optional[i] {
				return false
			}
			*(*unsafe.Pointer)(fieldPtr) = nil
			continue
		}

		// component holds a *C; copy the data word of the interface
		*(*unsafe.Pointer)(fieldPtr) = (*iface)(unsafe.Pointer(&component)).data
	}
	return true
}

// Get returns a populated view struct for the entity, or nil if it lacks a
// required component.
func (v *View[T]) Get(id EntityId) *T {
	var result T
	if !v.Fill(id, &result) {
		return nil
	}
	return &result
}

// driver picks the smallest required cache to iterate.
func (v *View[T]) driver() componentCache {
	var best componentCache
	for i, cache := range v.caches {
		if v.optional[i] {
			continue
		}
		if best == nil || cache.Len() < best.Len() {
			best = cache
		}
	}
	return best
}

// Iter yields every live entity that has all required components, in the
// slot order of the smallest required cache. A view with only optional fields
// visits every live entity.
func (v *View[T]) Iter() iter.Seq2[EntityId, T] {
	return func(yield func(EntityId, T) bool) {
		var result T

		driver := v.driver()
		if driver == nil {
			for e := range v.world.entities.all() {
				v.Fill(e.id, &result)
				if !yield(e.id, result) {
					return
				}
			}
			return
		}

		for id := range driver.IDs() {
			if !v.Fill(id, &result) {
				continue
			}
			if !yield(id, result) {
				return
			}
		}
	}
}

// Values iterates the view structs without their entity ids.
func (v *View[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, value := range v.Iter() {
			if !yield(value) {
				return
			}
		}
	}
}

// Spawn creates a root entity holding a copy of every non-nil field of data.
func (v *View[T]) Spawn(name string, data T) *Entity {
	structPtr := unsafe.Pointer(&data)

	e := v.world.CreateEntity(name)
	for i, componentType := range v.types {
		componentPtr := *(*unsafe.Pointer)(unsafe.Pointer(uintptr(structPtr) + v.fieldOffset[i]))
		if componentPtr == nil {
			if !v.optional[i] {
				panic("required component is nil in View.Spawn")
			}
			continue
		}
		v.world.AddComponentValue(e, reflect.NewAt(componentType, componentPtr).Interface())
	}
	return e
}
