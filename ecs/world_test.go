package ecs_test

import (
	"testing"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEntityIdEncoding(t *testing.T) {
	id := ecs.NewEntityId(67890, 3)

	assert.Equal(t, uint32(67890), id.Index())
	assert.Equal(t, uint32(3), id.Generation())
	assert.False(t, id.IsZero())
	assert.True(t, ecs.EntityId(0).IsZero())
}

func TestCreateEntity(t *testing.T) {
	w := newTestWorld()

	a := w.CreateEntity("a")
	b := w.CreateEntity("b")

	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, a.GUID(), b.GUID())
	assert.Equal(t, 2, w.EntityCount())
	assert.Same(t, a, w.Entity(a.ID()))
	assert.Same(t, b, w.FindEntity("b"))
	assert.Nil(t, w.FindEntity("missing"))
	assert.True(t, a.Visible())
	assert.Equal(t, geom.IdentityTransform, a.Transform())
}

func TestDestroyedIdNeverResolves(t *testing.T) {
	w := newTestWorld()

	a := w.CreateEntity("a")
	old := a.ID()
	w.DestroyEntity(a)

	assert.Nil(t, w.Entity(old))
	assert.Equal(t, 0, w.EntityCount())

	// The slot is reused under a new generation.
	b := w.CreateEntity("b")
	assert.Equal(t, old.Index(), b.ID().Index())
	assert.NotEqual(t, old.Generation(), b.ID().Generation())
	assert.Nil(t, w.Entity(old))
	assert.Same(t, b, w.Entity(b.ID()))
}

func TestDestroyDeadEntityPanics(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity("a")
	w.DestroyEntity(a)

	assert.Panics(t, func() { w.DestroyEntity(a) })
}

func TestDestroyEntityCascades(t *testing.T) {
	w := newTestWorld()
	listener := &recordingListener{}
	w.AddListener(listener)

	root := w.CreateEntity("root")
	child := w.CreateEntity("child")
	grandchild := w.CreateEntity("grandchild")
	require.True(t, w.AddChild(root, child))
	require.True(t, w.AddChild(child, grandchild))

	ecs.AddComponent(w, root, Position{X: 1})
	ecs.AddComponent(w, child, Position{X: 2})
	ecs.AddComponent(w, grandchild, Velocity{DX: 3})
	listener.events = nil

	childID, grandchildID := child.ID(), grandchild.ID()
	w.DestroyEntity(root)

	assert.Equal(t, []string{
		"remove:grandchild:Velocity",
		"remove:child:Position",
		"remove:root:Position",
	}, listener.events)
	assert.Equal(t, 0, w.EntityCount())
	assert.Nil(t, w.Entity(childID))
	assert.Nil(t, w.Entity(grandchildID))
	assert.Equal(t, 0, ecs.Cache[Position](w).Len())
	assert.Equal(t, 0, ecs.Cache[Velocity](w).Len())
	assert.Empty(t, w.Roots())
}

func TestListenerDestroyDuringDestroyIsIgnored(t *testing.T) {
	w := newTestWorld()
	keep := w.CreateEntity("keep")
	doomed := w.CreateEntity("doomed")
	ecs.AddComponent(w, doomed, Health{Current: 1, Max: 1})
	ecs.AddComponent(w, doomed, Position{X: 1})

	listener := &recordingListener{}
	listener.onRemove = func(e *ecs.Entity, component any) {
		if e.Name() == "doomed" {
			assert.True(t, e.Dying())
			w.DestroyEntity(e)
		}
	}
	w.AddListener(listener)

	doomedID := doomed.ID()
	w.DestroyEntity(doomed)

	assert.Nil(t, w.Entity(doomedID))
	assert.Same(t, keep, w.Entity(keep.ID()))
	assert.Equal(t, 1, w.EntityCount())
	assert.Equal(t, []*ecs.Entity{keep}, w.Roots())

	// the freed index is handed out once
	a := w.CreateEntity("a")
	b := w.CreateEntity("b")
	assert.NotEqual(t, a.ID().Index(), b.ID().Index())
	assert.NotEqual(t, keep.ID().Index(), a.ID().Index())
	assert.NotEqual(t, keep.ID().Index(), b.ID().Index())
	assert.Equal(t, 3, w.EntityCount())
}

func TestAddComponentToDyingEntityIsRefused(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newTestWorld(ecs.WithLogger(zap.New(core)))
	doomed := w.CreateEntity("doomed")
	ecs.AddComponent(w, doomed, Health{Current: 5, Max: 5})

	var typed *Position
	var erased any
	listener := &recordingListener{}
	listener.onRemove = func(e *ecs.Entity, component any) {
		if _, ok := component.(*Health); ok {
			typed = ecs.AddComponent(w, e, Position{X: 3})
			erased = w.AddComponentValue(e, Velocity{DX: 1})
		}
	}
	w.AddListener(listener)

	doomedID := doomed.ID()
	w.DestroyEntity(doomed)

	assert.Nil(t, typed)
	assert.Nil(t, erased)
	assert.Equal(t, 0, ecs.Cache[Position](w).Len())
	assert.Equal(t, 0, ecs.Cache[Velocity](w).Len())
	assert.False(t, ecs.Cache[Position](w).Has(doomedID))
	assert.Equal(t, 2, logs.FilterMessage("refusing to add a component to an entity being destroyed").Len())

	// a new entity reusing the slot starts clean
	fresh := w.CreateEntity("fresh")
	assert.False(t, ecs.HasComponent[Position](w, fresh))
}

func TestAddChildToDyingEntityIsRefused(t *testing.T) {
	w := newTestWorld()
	orphan := w.CreateEntity("orphan")
	doomed := w.CreateEntity("doomed")
	ecs.AddComponent(w, doomed, Health{Current: 1, Max: 1})

	var parented bool
	listener := &recordingListener{}
	listener.onRemove = func(e *ecs.Entity, component any) {
		parented = w.AddChild(e, orphan)
	}
	w.AddListener(listener)

	w.DestroyEntity(doomed)

	assert.False(t, parented)
	assert.Same(t, orphan, w.Entity(orphan.ID()))
	assert.Equal(t, 1, w.EntityCount())
}

func TestDestroyEntityReleasesPhysicsBody(t *testing.T) {
	w := newTestWorld()
	physics := &fakePhysics{}
	w.SetPhysics(physics)

	crate := w.CreateEntity("crate")
	crate.SetBody(7)
	plain := w.CreateEntity("plain")

	w.DestroyEntity(crate)
	w.DestroyEntity(plain)

	assert.Equal(t, []string{"crate"}, physics.destroyed)
}

func TestAddComponent(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity("e")

	pos := ecs.AddComponent(w, e, Position{X: 1, Y: 2})
	require.NotNil(t, pos)
	assert.Equal(t, Position{X: 1, Y: 2}, *pos)
	assert.Same(t, pos, ecs.GetComponent[Position](w, e))
	assert.True(t, ecs.HasComponent[Position](w, e))
	assert.False(t, ecs.HasComponent[Velocity](w, e))

	zero := ecs.AddComponent[Velocity](w, e)
	require.NotNil(t, zero)
	assert.Equal(t, Velocity{}, *zero)

	score := ecs.AddComponent(w, e, Score(42))
	assert.Equal(t, Score(42), *score)

	assert.Len(t, w.Components(e), 3)
}

func TestAddComponentDuplicateWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newTestWorld(ecs.WithLogger(zap.New(core)))
	e := w.CreateEntity("e")

	first := ecs.AddComponent(w, e, Health{Current: 10, Max: 10})
	second := ecs.AddComponent(w, e, Health{Current: 99, Max: 99})

	assert.Same(t, first, second)
	assert.Equal(t, 10, second.Current)
	assert.Equal(t, 1, logs.FilterMessage("component already exists on entity").Len())
}

func TestRemoveComponent(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newTestWorld(ecs.WithLogger(zap.New(core)))
	listener := &recordingListener{}
	w.AddListener(listener)
	e := w.CreateEntity("e")
	ecs.AddComponent(w, e, Position{})

	assert.True(t, ecs.RemoveComponent[Position](w, e))
	assert.False(t, ecs.HasComponent[Position](w, e))
	assert.Equal(t, []string{"add:e:Position", "remove:e:Position"}, listener.events)

	assert.False(t, ecs.RemoveComponent[Position](w, e))
	assert.Equal(t, 1, logs.FilterMessage("component to remove does not exist").Len())
}

func TestUnregisteredComponentPanics(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity("e")

	assert.Panics(t, func() { ecs.AddComponent(w, e, 3.5) })
	assert.Panics(t, func() { ecs.Cache[float32](w) })
}

func TestRegisterComponentRejectsInvalidTypes(t *testing.T) {
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Position](registry)

	assert.Panics(t, func() { ecs.RegisterComponent[Position](registry) })
	assert.Panics(t, func() { ecs.RegisterComponent[*Velocity](registry) })
	assert.Panics(t, func() { ecs.RegisterComponent[map[string]int](registry) })
	assert.Panics(t, func() { ecs.RegisterComponentAs[Velocity](registry, "ecs_test.Position") })
}

func TestListenerMutationOnSameCacheIsDeferred(t *testing.T) {
	w := newTestWorld()
	other := w.CreateEntity("other")

	var deferred *Position
	listener := &recordingListener{}
	listener.onAdd = func(e *ecs.Entity, component any) {
		if _, ok := component.(*Position); ok && e.Name() == "first" {
			deferred = ecs.AddComponent(w, other, Position{X: 9})
			// other caches are not notifying and apply immediately
			ecs.AddComponent(w, e, Velocity{DX: 1})
		}
	}
	w.AddListener(listener)

	first := w.CreateEntity("first")
	ecs.AddComponent(w, first, Position{X: 1})

	assert.Nil(t, deferred)
	require.True(t, ecs.HasComponent[Position](w, other))
	assert.Equal(t, float32(9), ecs.GetComponent[Position](w, other).X)
	assert.True(t, ecs.HasComponent[Velocity](w, first))
	assert.Equal(t, []string{
		"add:first:Position",
		"add:first:Velocity",
		"add:other:Position",
	}, listener.events)
}

func TestAddChild(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newTestWorld(ecs.WithLogger(zap.New(core)))

	a := w.CreateEntity("a")
	b := w.CreateEntity("b")
	c := w.CreateEntity("c")

	require.True(t, w.AddChild(a, b))
	require.True(t, w.AddChild(b, c))
	assert.Equal(t, a.ID(), b.Parent())
	assert.Equal(t, []*ecs.Entity{b}, w.Children(a))
	assert.Equal(t, []*ecs.Entity{a}, w.Roots())

	assert.False(t, w.AddChild(c, a), "cycle")
	assert.False(t, w.AddChild(a, a), "self")
	assert.Equal(t, 2, logs.Len())

	w.RemoveFromParent(c)
	assert.Equal(t, ecs.EntityId(0), c.Parent())
	assert.Equal(t, []*ecs.Entity{a, c}, w.Roots())
	assert.Empty(t, b.Children())
}

func TestViewEntitiesStopsOnTrue(t *testing.T) {
	w := newTestWorld()
	for _, name := range []string{"a", "b", "c", "d"} {
		w.CreateEntity(name)
	}

	var seen []string
	w.ViewEntities(func(e *ecs.Entity) bool {
		seen = append(seen, e.Name())
		return e.Name() == "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)

	seen = nil
	w.ViewEntities(func(e *ecs.Entity) bool {
		seen = append(seen, e.Name())
		return false
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)

	count := 0
	for range w.Entities() {
		count++
	}
	assert.Equal(t, 4, count)
}

func TestImplementing(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity("a")
	b := w.CreateEntity("b")
	ecs.AddComponent(w, a, Spinner{})
	ecs.AddComponent(w, b, Position{})
	ecs.AddComponent(w, b, Model{Mesh: 1})

	var tickers []string
	for e := range ecs.Implementing[ecs.Ticker](w) {
		tickers = append(tickers, e.Name())
	}
	assert.Equal(t, []string{"a"}, tickers)

	var users []string
	for e, user := range ecs.Implementing[ecs.ResourceUser](w) {
		users = append(users, e.Name())
		assert.IsType(t, &Model{}, user)
	}
	assert.Equal(t, []string{"b"}, users)
}

func TestTransformSetters(t *testing.T) {
	w := newTestWorld()
	e := w.CreateEntity("e")

	e.SetPosition(geom.V3(1, 2, 3))
	assert.Equal(t, geom.V3(1, 2, 3), e.PreviousTransform().Position, "setters teleport")

	moved := e.Transform()
	moved.Position = geom.V3(3, 2, 3)
	e.SetSimulatedTransform(moved)
	assert.Equal(t, geom.V3(1, 2, 3), e.PreviousTransform().Position)
	assert.Equal(t, geom.V3(2, 2, 3), e.InterpolatedTransform(0.5).Position)
}

func TestWorldDestroy(t *testing.T) {
	w := newTestWorld()
	listener := &recordingListener{}
	w.AddListener(listener)

	a := w.CreateEntity("a")
	ecs.AddComponent(w, a, Position{})
	w.Destroy()

	assert.Contains(t, listener.events, "remove:a:Position")
	assert.Equal(t, 0, w.EntityCount())
	assert.Equal(t, 0, ecs.Cache[Position](w).Len())
}

func TestCollectStats(t *testing.T) {
	w := newTestWorld()
	a := w.CreateEntity("a")
	b := w.CreateEntity("b")
	ecs.AddComponent(w, a, Position{})
	ecs.AddComponent(w, b, Position{})
	ecs.AddComponent(w, b, Velocity{})
	ecs.NewSingleton[Score](w, 3)
	w.DestroyEntity(a)

	stats := w.CollectStats()
	assert.Equal(t, 1, stats.EntityCount)
	assert.Equal(t, 1, stats.FreeEntityIds)
	assert.Equal(t, 2, stats.TotalComponents)
	assert.Equal(t, 1, stats.SingletonCount)
	assert.Equal(t, []string{"ecs_test.Score"}, stats.SingletonTypes)
	require.Len(t, stats.Caches, 10)
	assert.Equal(t, "ecs_test.Position", stats.Caches[0].Name)
	assert.Equal(t, 1, stats.Caches[0].Count)
	assert.Equal(t, 1, stats.Caches[0].FreeSlots)
	assert.Equal(t, 64, stats.Caches[0].Capacity)
}
