package ecs

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/kamstrup/intmap"
)

// ComponentRegistry lists the component types a world can hold. Every type
// must be registered before the world is created; NewWorld builds one cache
// per registered type up front and never creates caches lazily.
type ComponentRegistry struct {
	entries []registryEntry
	byType  map[reflect.Type]int
	byName  map[string]int
}

type registryEntry struct {
	typ     reflect.Type
	name    string
	factory func() componentCache
}

// NewComponentRegistry creates a new component registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byType: make(map[reflect.Type]int),
		byName: make(map[string]int),
	}
}

// RegisterComponent registers T under its Go type name.
func RegisterComponent[T any](r *ComponentRegistry) {
	RegisterComponentAs[T](r, reflect.TypeFor[T]().String())
}

// RegisterComponentAs registers T under an explicit name. The name is what
// SaveToStream writes, so it must stay stable across releases.
func RegisterComponentAs[T any](r *ComponentRegistry, name string) {
	t := reflect.TypeFor[T]()
	switch t.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		panic("components cannot be pointers, maps, channels, functions or interfaces")
	}
	if _, ok := r.byType[t]; ok {
		panic(fmt.Sprintf("component %s registered twice", t))
	}
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("component name %q registered twice", name))
	}

	r.byType[t] = len(r.entries)
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, registryEntry{
		typ:  t,
		name: name,
		factory: func() componentCache {
			return newComponentCache[T](name)
		},
	})
}

// Types returns the registered component types in registration order.
func (r *ComponentRegistry) Types() []reflect.Type {
	types := make([]reflect.Type, len(r.entries))
	for i, e := range r.entries {
		types[i] = e.typ
	}
	return types
}

// componentCache is the type-erased side of ComponentCache used by the world.
type componentCache interface {
	Type() reflect.Type
	Name() string
	Len() int
	Has(id EntityId) bool
	IDs() iter.Seq[EntityId]

	getAny(id EntityId) any
	addAny(id EntityId, value any) (any, bool)
	remove(id EntityId) bool
	clear()

	encode(id EntityId, enc *Encoder) error
	decode(id EntityId, dec *Decoder) (any, error)

	notifying() bool
	beginNotify()
	endNotify()
}

const (
	cacheBlockSize = 64
)

// ComponentCache stores every component of type T for one world. Components
// live in fixed 64-slot blocks, so pointers returned by Add and Get stay valid
// until the component is removed or the cache is compacted.
type ComponentCache[T any] struct {
	name      string
	typ       reflect.Type
	blocks    []*[cacheBlockSize]T
	owners    []*[cacheBlockSize]EntityId
	freeSlots []int
	nextIndex int
	slots     *intmap.Map[EntityId, int]
	notifies  int
}

func newComponentCache[T any](name string) *ComponentCache[T] {
	return &ComponentCache[T]{
		name:  name,
		typ:   reflect.TypeFor[T](),
		slots: intmap.New[EntityId, int](64),
	}
}

func (c *ComponentCache[T]) Type() reflect.Type { return c.typ }
func (c *ComponentCache[T]) Name() string       { return c.name }
func (c *ComponentCache[T]) Len() int           { return c.slots.Len() }

// Add stores value for the entity. If the entity already has a T the existing
// component is returned with false.
func (c *ComponentCache[T]) Add(id EntityId, value T) (*T, bool) {
	if index, ok := c.slots.Get(id); ok {
		return c.at(index), false
	}

	var index int
	if len(c.freeSlots) > 0 {
		index = c.freeSlots[len(c.freeSlots)-1]
		c.freeSlots = c.freeSlots[:len(c.freeSlots)-1]
	} else {
		index = c.nextIndex
		c.nextIndex++
		if index/cacheBlockSize >= len(c.blocks) {
			c.blocks = append(c.blocks, new([cacheBlockSize]T))
			c.owners = append(c.owners, new([cacheBlockSize]EntityId))
		}
	}

	blockIdx := index / cacheBlockSize
	slotIdx := index % cacheBlockSize
	c.blocks[blockIdx][slotIdx] = value
	c.owners[blockIdx][slotIdx] = id
	c.slots.Put(id, index)
	return &c.blocks[blockIdx][slotIdx], true
}

// Get returns the entity's component or nil.
func (c *ComponentCache[T]) Get(id EntityId) *T {
	index, ok := c.slots.Get(id)
	if !ok {
		return nil
	}
	return c.at(index)
}

func (c *ComponentCache[T]) Has(id EntityId) bool {
	_, ok := c.slots.Get(id)
	return ok
}

// Remove drops the entity's component. It reports whether one existed.
func (c *ComponentCache[T]) Remove(id EntityId) bool {
	index, ok := c.slots.Get(id)
	if !ok {
		return false
	}

	blockIdx := index / cacheBlockSize
	slotIdx := index % cacheBlockSize

	var zero T
	c.blocks[blockIdx][slotIdx] = zero
	c.owners[blockIdx][slotIdx] = 0
	c.freeSlots = append(c.freeSlots, index)
	c.slots.Del(id)
	return true
}

func (c *ComponentCache[T]) at(index int) *T {
	return &c.blocks[index/cacheBlockSize][index%cacheBlockSize]
}

// All iterates the live components in slot order.
func (c *ComponentCache[T]) All() iter.Seq2[EntityId, *T] {
	return func(yield func(EntityId, *T) bool) {
		for i := 0; i < c.nextIndex; i++ {
			blockIdx := i / cacheBlockSize
			slotIdx := i % cacheBlockSize

			owner := c.owners[blockIdx][slotIdx]
			if owner == 0 {
				continue
			}
			if !yield(owner, &c.blocks[blockIdx][slotIdx]) {
				return
			}
		}
	}
}

// IDs iterates the owners of the live components.
func (c *ComponentCache[T]) IDs() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for id := range c.All() {
			if !yield(id) {
				return
			}
		}
	}
}

// Compact moves live components to the front and drops unused blocks.
// Pointers obtained before the call are invalidated.
func (c *ComponentCache[T]) Compact() {
	total := c.slots.Len()
	if total == 0 {
		c.blocks = nil
		c.owners = nil
		c.freeSlots = nil
		c.nextIndex = 0
		return
	}

	numBlocks := (total + cacheBlockSize - 1) / cacheBlockSize
	newBlocks := make([]*[cacheBlockSize]T, numBlocks)
	newOwners := make([]*[cacheBlockSize]EntityId, numBlocks)
	for i := range newBlocks {
		newBlocks[i] = new([cacheBlockSize]T)
		newOwners[i] = new([cacheBlockSize]EntityId)
	}

	writePos := 0
	for id, value := range c.All() {
		newBlocks[writePos/cacheBlockSize][writePos%cacheBlockSize] = *value
		newOwners[writePos/cacheBlockSize][writePos%cacheBlockSize] = id
		c.slots.Put(id, writePos)
		writePos++
	}

	c.blocks = newBlocks
	c.owners = newOwners
	c.freeSlots = nil
	c.nextIndex = writePos
}

func (c *ComponentCache[T]) getAny(id EntityId) any {
	if v := c.Get(id); v != nil {
		return v
	}
	return nil
}

func (c *ComponentCache[T]) addAny(id EntityId, value any) (any, bool) {
	var concrete T
	switch v := value.(type) {
	case *T:
		concrete = *v
	case T:
		concrete = v
	case nil:
	default:
		panic(fmt.Sprintf("component cache %s: cannot store %T", c.name, value))
	}
	return c.Add(id, concrete)
}

func (c *ComponentCache[T]) remove(id EntityId) bool {
	return c.Remove(id)
}

func (c *ComponentCache[T]) clear() {
	c.blocks = nil
	c.owners = nil
	c.freeSlots = nil
	c.nextIndex = 0
	c.slots = intmap.New[EntityId, int](64)
}

func (c *ComponentCache[T]) encode(id EntityId, enc *Encoder) error {
	value := c.Get(id)
	if value == nil {
		return fmt.Errorf("component %s missing for entity %d", c.name, id)
	}
	return encodeComponent(enc, value)
}

func (c *ComponentCache[T]) decode(id EntityId, dec *Decoder) (any, error) {
	var value T
	if err := decodeComponent(dec, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func (c *ComponentCache[T]) notifying() bool { return c.notifies > 0 }
func (c *ComponentCache[T]) beginNotify()    { c.notifies++ }
func (c *ComponentCache[T]) endNotify()      { c.notifies-- }
