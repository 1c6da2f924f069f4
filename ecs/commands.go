package ecs

import "reflect"

// Commands buffers structural world changes so they can be applied at a safe
// point: the end of a scheduler frame, or the end of the outermost listener
// notification.
type Commands struct {
	spawns   []spawnCommand
	destroys []EntityId
	adds     []addComponentCommand
	removes  []removeComponentCommand
	defers   []func()
	flushing bool
}

func newCommands() *Commands {
	return &Commands{}
}

type spawnCommand struct {
	name       string
	components []any
	then       func(*Entity)
}

type addComponentCommand struct {
	entity    EntityId
	component any
}

type removeComponentCommand struct {
	entity   EntityId
	compType reflect.Type
}

// Defer queues fn to run after the other queued operations.
func (c *Commands) Defer(fn func()) {
	c.defers = append(c.defers, fn)
}

// Spawn queues the creation of a root entity with the given components.
func (c *Commands) Spawn(name string, components ...any) {
	c.spawns = append(c.spawns, spawnCommand{name: name, components: components})
}

// CreateEntity is Spawn with an init callback that receives the created
// entity after its components are attached.
func (c *Commands) CreateEntity(name string, init func(*Entity), components ...any) {
	c.spawns = append(c.spawns, spawnCommand{name: name, components: components, then: init})
}

// DestroyEntity queues the destruction of an entity and its subtree.
func (c *Commands) DestroyEntity(entity EntityId) {
	c.destroys = append(c.destroys, entity)
}

// AddComponent queues a component addition. component may be a T or *T.
func (c *Commands) AddComponent(entity EntityId, component any) {
	c.adds = append(c.adds, addComponentCommand{
		entity:    entity,
		component: component,
	})
}

// RemoveComponent queues a component removal.
func (c *Commands) RemoveComponent(entity EntityId, compType reflect.Type) {
	c.removes = append(c.removes, removeComponentCommand{
		entity:   entity,
		compType: compType,
	})
}

// Len is the number of queued operations.
func (c *Commands) Len() int {
	return len(c.spawns) + len(c.destroys) + len(c.adds) + len(c.removes) + len(c.defers)
}

// Flush applies the queued operations to w in the order destroys, removes,
// adds, spawns, defers. Operations queued while flushing are applied by the
// same call. Operations on entities that are no longer alive are dropped.
func (c *Commands) Flush(w *World) {
	if c.flushing {
		return
	}
	c.flushing = true
	defer func() { c.flushing = false }()

	for c.Len() > 0 {
		spawns, destroys, adds, removes, defers := c.spawns, c.destroys, c.adds, c.removes, c.defers
		c.spawns, c.destroys, c.adds, c.removes, c.defers = nil, nil, nil, nil, nil

		for _, id := range destroys {
			if e := w.Entity(id); e != nil && !e.dying {
				w.DestroyEntity(e)
			}
		}

		for _, cmd := range removes {
			if e := w.Entity(cmd.entity); e != nil && w.cacheFor(cmd.compType).Has(e.id) {
				w.RemoveComponentType(e, cmd.compType)
			}
		}

		for _, cmd := range adds {
			if e := w.Entity(cmd.entity); e != nil && !e.dying {
				w.AddComponentValue(e, cmd.component)
			}
		}

		for _, cmd := range spawns {
			e := w.CreateEntity(cmd.name)
			for _, component := range cmd.components {
				w.AddComponentValue(e, component)
			}
			if cmd.then != nil {
				cmd.then(e)
			}
		}

		for _, fn := range defers {
			fn()
		}
	}
}
