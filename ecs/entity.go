package ecs

import (
	"iter"
	"math"

	"github.com/plus3/lumen/geom"
)

// EntityId encodes the entity's arena index (lower 32 bits) and the generation
// of that slot (upper 32 bits). Generations start at 1, so 0 is never a live id.
type EntityId uint64

// NewEntityId creates an EntityId from an arena index and a generation
func NewEntityId(index uint32, generation uint32) EntityId {
	return EntityId(uint64(generation)<<32 | uint64(index))
}

// Index extracts the arena index from the entity ID
func (e EntityId) Index() uint32 {
	return uint32(e & 0xFFFFFFFF)
}

// Generation extracts the slot generation from the entity ID
func (e EntityId) Generation() uint32 {
	return uint32(e >> 32)
}

func (e EntityId) IsZero() bool { return e == 0 }

// EntityFlags is a bit set of per-entity switches.
type EntityFlags uint32

const (
	EntityFlagVisible EntityFlags = 1 << iota
	EntityFlagStatic
	EntityFlagSelectable

	defaultEntityFlags = EntityFlagVisible | EntityFlagSelectable
)

// BodyHandle is an opaque reference to a physics body owned by the physics
// layer. Zero means the entity has no body.
type BodyHandle uint64

// Entity is a node in the world's entity tree. Entities are owned by the world
// and live in a block arena, so the pointer returned by CreateEntity stays valid
// until DestroyEntity. Parent and children are stored as ids, not pointers.
type Entity struct {
	id        EntityId
	guid      uint64
	name      string
	parent    EntityId
	children  []EntityId
	transform geom.Transform
	prev      geom.Transform
	flags     EntityFlags
	body      BodyHandle
	dying     bool

	// Physics describes the body the physics world builds for this entity
	// when play begins.
	Physics PhysicsSettings
}

func (e *Entity) ID() EntityId               { return e.id }
func (e *Entity) GUID() uint64               { return e.guid }
func (e *Entity) Name() string               { return e.name }
func (e *Entity) SetName(name string)        { e.name = name }
func (e *Entity) Parent() EntityId           { return e.parent }
func (e *Entity) Flags() EntityFlags         { return e.flags }
func (e *Entity) Body() BodyHandle           { return e.body }
func (e *Entity) SetBody(h BodyHandle)       { e.body = h }
func (e *Entity) HasFlag(f EntityFlags) bool { return e.flags&f != 0 }

// Dying reports whether e is part of a subtree that is being destroyed.
func (e *Entity) Dying() bool { return e.dying }

// Children returns the ids of the direct children in insertion order.
func (e *Entity) Children() []EntityId {
	return e.children
}

func (e *Entity) SetFlag(f EntityFlags, on bool) {
	if on {
		e.flags |= f
	} else {
		e.flags &^= f
	}
}

func (e *Entity) Visible() bool             { return e.flags&EntityFlagVisible != 0 }
func (e *Entity) SetVisible(v bool)         { e.SetFlag(EntityFlagVisible, v) }
func (e *Entity) Transform() geom.Transform { return e.transform }

// PreviousTransform is the transform before the last physics step.
func (e *Entity) PreviousTransform() geom.Transform { return e.prev }

// SetTransform teleports the entity; no interpolation happens across the change.
func (e *Entity) SetTransform(t geom.Transform) {
	e.transform = t
	e.prev = t
}

func (e *Entity) Position() geom.Vec3 { return e.transform.Position }

func (e *Entity) SetPosition(p geom.Vec3) {
	e.transform.Position = p
	e.prev.Position = p
}

func (e *Entity) SetRotation(q geom.Quat) {
	e.transform.Rotation = q
	e.prev.Rotation = q
}

func (e *Entity) SetScale(s geom.Vec3) {
	e.transform.Scale = s
	e.prev.Scale = s
}

// SetSimulatedTransform records t as the new transform and keeps the old one
// as the interpolation origin.
func (e *Entity) SetSimulatedTransform(t geom.Transform) {
	e.prev = e.transform
	e.transform = t
}

// InterpolatedTransform blends the previous and current transform by alpha.
func (e *Entity) InterpolatedTransform(alpha float32) geom.Transform {
	if alpha >= 1 {
		return e.transform
	}
	return e.prev.Lerp(e.transform, geom.Clamp01(alpha))
}

const entityBlockSize = 64

// entityArena allocates entities in fixed blocks so addresses never move.
type entityArena struct {
	blocks      []*[entityBlockSize]Entity
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
	count       int
}

func (a *entityArena) alloc() *Entity {
	var idx uint32
	if len(a.freeList) > 0 {
		idx = a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
	} else {
		if a.nextIndex == math.MaxUint32 {
			panic("ecs: entity id space exhausted")
		}
		idx = a.nextIndex
		a.nextIndex++
		if int(idx)/entityBlockSize >= len(a.blocks) {
			a.blocks = append(a.blocks, new([entityBlockSize]Entity))
		}
		a.generations = append(a.generations, 1)
	}

	e := &a.blocks[idx/entityBlockSize][idx%entityBlockSize]
	*e = Entity{
		id:        NewEntityId(idx, a.generations[idx]),
		transform: geom.IdentityTransform,
		prev:      geom.IdentityTransform,
		flags:     defaultEntityFlags,
		Physics:   DefaultPhysicsSettings,
	}
	a.count++
	return e
}

func (a *entityArena) get(id EntityId) *Entity {
	idx := id.Index()
	if id == 0 || idx >= a.nextIndex || a.generations[idx] != id.Generation() {
		return nil
	}
	e := &a.blocks[idx/entityBlockSize][idx%entityBlockSize]
	if e.id != id {
		return nil
	}
	return e
}

func (a *entityArena) release(e *Entity) {
	idx := e.id.Index()
	gen := a.generations[idx] + 1
	if gen == 0 {
		gen = 1
	}
	a.generations[idx] = gen
	*e = Entity{}
	a.freeList = append(a.freeList, idx)
	a.count--
}

func (a *entityArena) all() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		for i := uint32(0); i < a.nextIndex; i++ {
			e := &a.blocks[i/entityBlockSize][i%entityBlockSize]
			if e.id == 0 {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

func (a *entityArena) reset() {
	a.blocks = nil
	a.generations = nil
	a.freeList = nil
	a.nextIndex = 0
	a.count = 0
}
