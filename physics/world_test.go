package physics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
	"github.com/plus3/lumen/physics"
)

type Marker struct{ Value int }

type recordingSim struct {
	*physics.KinematicSimulator
	adds    [][]physics.BodyID
	removes [][]physics.BodyID
}

func (s *recordingSim) AddBodies(ids []physics.BodyID) {
	s.adds = append(s.adds, append([]physics.BodyID(nil), ids...))
	s.KinematicSimulator.AddBodies(ids)
}

func (s *recordingSim) RemoveBodies(ids []physics.BodyID) {
	s.removes = append(s.removes, append([]physics.BodyID(nil), ids...))
	s.KinematicSimulator.RemoveBodies(ids)
}

type eventListener struct {
	events []string
}

func (l *eventListener) OnPrePhysicsTick(dt float64)  { l.events = append(l.events, "pre") }
func (l *eventListener) OnPostPhysicsTick(dt float64) { l.events = append(l.events, "post") }

const step = 0.25

func newPhysicsWorld(t *testing.T, opts ...physics.Option) (*ecs.World, *recordingSim, *physics.World) {
	t.Helper()
	registry := ecs.NewComponentRegistry()
	ecs.RegisterComponent[Marker](registry)
	w := ecs.NewWorld(registry)
	sim := &recordingSim{KinematicSimulator: physics.NewKinematicSimulator(geom.V3(0, -10, 0))}
	pw := physics.NewWorld(w, sim, append([]physics.Option{physics.WithFixedStep(step)}, opts...)...)
	t.Cleanup(w.Destroy)
	return w, sim, pw
}

func body(w *ecs.World, name string, bt ecs.BodyType, shape ecs.ShapeType, pos geom.Vec3) *ecs.Entity {
	e := w.CreateEntity(name)
	e.SetPosition(pos)
	e.Physics.BodyType = bt
	e.Physics.Shape = shape
	return e
}

func TestNewWorldAttaches(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	assert.Same(t, pw, w.Physics())
	assert.Equal(t, step, pw.FixedStep())
	assert.Equal(t, physics.ResetAccumulator, pw.Mode())
}

func TestBeginAddsBodiesInOneBatch(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	a := body(w, "a", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 5, 0))
	b := body(w, "b", ecs.BodyTypeStatic, ecs.ShapeBox, geom.Zero3)
	c := body(w, "c", ecs.BodyTypeKinematic, ecs.ShapeCapsule, geom.V3(2, 0, 0))
	none := w.CreateEntity("none")

	pw.Begin()

	require.Len(t, sim.adds, 1)
	assert.Len(t, sim.adds[0], 3)
	assert.Equal(t, 3, pw.BodyCount())
	assert.Equal(t, 3, sim.ActiveCount())
	for _, e := range []*ecs.Entity{a, b, c} {
		require.NotZero(t, e.Body(), e.Name())
		assert.Same(t, e, pw.EntityForBody(physics.BodyID(e.Body())))
	}
	assert.Zero(t, none.Body())
	assert.True(t, pw.Running())

	pw.Begin()
	assert.Len(t, sim.adds, 1, "nothing new to add")
	assert.Equal(t, 3, pw.BodyCount())

	d := body(w, "d", ecs.BodyTypeDynamic, ecs.ShapeBox, geom.Zero3)
	pw.Begin()
	require.Len(t, sim.adds, 2)
	assert.Equal(t, []physics.BodyID{physics.BodyID(d.Body())}, sim.adds[1])
}

func TestEnsureBodiesDestroysBodyOfNoneEntity(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	e := body(w, "e", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.Zero3)
	keep := body(w, "keep", ecs.BodyTypeStatic, ecs.ShapePlane, geom.Zero3)
	pw.Begin()
	id := physics.BodyID(e.Body())

	e.Physics.BodyType = ecs.BodyTypeNone
	pw.EnsureBodies()

	assert.Zero(t, e.Body())
	assert.Nil(t, pw.EntityForBody(id))
	assert.Equal(t, 1, pw.BodyCount())
	assert.Equal(t, 1, sim.BodyCount())
	assert.NotZero(t, keep.Body())
}

func TestEndRemovesAllBodiesInOneBatch(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	entities := []*ecs.Entity{
		body(w, "a", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.Zero3),
		body(w, "b", ecs.BodyTypeStatic, ecs.ShapeBox, geom.Zero3),
		body(w, "c", ecs.BodyTypeKinematic, ecs.ShapeCylinder, geom.Zero3),
	}
	pw.Begin()
	pw.End()

	require.Len(t, sim.removes, 1)
	assert.Len(t, sim.removes[0], 3)
	assert.Equal(t, 0, pw.BodyCount())
	assert.Equal(t, 0, sim.BodyCount())
	for _, e := range entities {
		assert.Zero(t, e.Body())
	}
	assert.False(t, pw.Running())

	pw.End()
	assert.Len(t, sim.removes, 1, "second End has nothing to remove")
}

func TestUnknownShapePanics(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	body(w, "odd", ecs.BodyTypeDynamic, ecs.ShapeType(99), geom.Zero3)
	assert.Panics(t, pw.Begin)
}

func TestAccumulatorReset(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	pw.Begin()

	pw.Tick(0.125)
	assert.False(t, pw.Simulated())
	assert.InDelta(t, 0.5, pw.Alpha(), 1e-6)

	pw.Tick(0.25)
	assert.True(t, pw.Simulated())
	pw.WaitForSimulation()
	assert.Equal(t, 0.0, pw.Accumulator(), "remainder is dropped")
	assert.Equal(t, float32(0), pw.Alpha())

	pw.Tick(1.0)
	pw.WaitForSimulation()
	assert.Equal(t, 0.0, pw.Accumulator())
	assert.Equal(t, 2, sim.Steps(), "one step per tick however large the delta")
}

func TestAccumulatorCarry(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t, physics.WithAccumulatorMode(physics.CarryAccumulator))
	body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	pw.Begin()

	pw.Tick(0.375)
	pw.WaitForSimulation()
	assert.True(t, pw.Simulated())
	assert.Equal(t, 0.125, pw.Accumulator())
	assert.InDelta(t, 0.5, pw.Alpha(), 1e-6)

	pw.Tick(0.125)
	pw.WaitForSimulation()
	assert.True(t, pw.Simulated(), "carried remainder completes a step")
	assert.Equal(t, 0.0, pw.Accumulator())

	pw.Tick(1.0)
	pw.WaitForSimulation()
	assert.Equal(t, step, pw.Accumulator(), "backlog is capped at one step")
	assert.Equal(t, float32(1), pw.Alpha())
	assert.Equal(t, 3, sim.Steps())
}

func TestParseAccumulatorMode(t *testing.T) {
	assert.Equal(t, physics.CarryAccumulator, physics.ParseAccumulatorMode("carry"))
	assert.Equal(t, physics.ResetAccumulator, physics.ParseAccumulatorMode("reset"))
	assert.Equal(t, physics.ResetAccumulator, physics.ParseAccumulatorMode("bogus"))
}

func TestTickBeforeBeginDoesNothing(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))

	pw.Tick(1)
	pw.WaitForSimulation()
	assert.False(t, pw.Simulated())
	assert.Equal(t, 0, sim.Steps())
}

func TestWaitForSimulationWritesTransforms(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	ball := body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	wall := body(w, "wall", ecs.BodyTypeStatic, ecs.ShapeBox, geom.V3(5, 0, 0))
	listener := &eventListener{}
	pw.AddListener(listener)
	pw.Begin()

	pw.Tick(step)
	assert.Equal(t, []string{"pre"}, listener.events)
	pw.WaitForSimulation()
	assert.Equal(t, []string{"pre", "post"}, listener.events)

	// v = -10 * 0.25, y = 10 + v * 0.25
	assert.InDelta(t, 9.375, ball.Position().Y, 1e-5)
	assert.InDelta(t, 10, ball.PreviousTransform().Position.Y, 1e-5)
	assert.InDelta(t, 9.6875, ball.InterpolatedTransform(0.5).Position.Y, 1e-5)
	assert.Equal(t, geom.V3(5, 0, 0), wall.Position())

	pw.Tick(0.1)
	pw.WaitForSimulation()
	assert.Equal(t, []string{"pre", "post"}, listener.events, "no step, no callbacks")

	pw.RemoveListener(listener)
	pw.Tick(step)
	pw.WaitForSimulation()
	assert.Len(t, listener.events, 2)
}

func TestKinematicBodiesFollowEntities(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	platform := body(w, "platform", ecs.BodyTypeKinematic, ecs.ShapeBox, geom.Zero3)
	pw.Begin()

	platform.SetPosition(geom.V3(3, 1, 0))
	pw.Tick(step)
	pw.WaitForSimulation()

	pos, _ := sim.BodyTransform(physics.BodyID(platform.Body()))
	assert.Equal(t, geom.V3(3, 1, 0), pos)
	assert.Equal(t, geom.V3(3, 1, 0), platform.Position())
}

func TestBodiesRestOnGround(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	ball := body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 2, 0))
	ball.Physics.Radius = 0.5
	body(w, "ground", ecs.BodyTypeStatic, ecs.ShapePlane, geom.Zero3)
	pw.Begin()

	for i := 0; i < 40; i++ {
		pw.Tick(step)
		pw.WaitForSimulation()
	}
	assert.InDelta(t, 0.5, ball.Position().Y, 1e-3)
}

func TestPlayDrivesPhysics(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	ball := body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))

	w.Tick(step)
	assert.Equal(t, 0, pw.BodyCount(), "no bodies outside play")

	require.True(t, w.BeginPlay(ecs.PlayModePlay))
	assert.Equal(t, 1, pw.BodyCount())

	w.Tick(step)
	assert.Equal(t, 1, sim.Steps())
	assert.Less(t, ball.Position().Y, float32(10))
	assert.Equal(t, float32(0), w.Alpha())

	w.Tick(0.125)
	assert.InDelta(t, 0.5, w.Alpha(), 1e-6)

	require.True(t, w.EndPlay())
	assert.Zero(t, ball.Body())
	assert.Equal(t, 0, sim.BodyCount())
	assert.Equal(t, float32(1), w.Alpha())
}

func TestDisabledPhysicsFlag(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	w.SetFlags(ecs.WorldFlagDisablePhysics)

	require.True(t, w.BeginPlay(ecs.PlayModePhysics))
	assert.Equal(t, 0, pw.BodyCount())
}

func TestDestroyEntityReleasesBody(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	ball := body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	other := body(w, "other", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 20, 0))
	require.True(t, w.BeginPlay(ecs.PlayModePlay))

	w.DestroyEntity(ball)
	assert.Equal(t, 1, pw.BodyCount())
	assert.Equal(t, 1, sim.BodyCount())
	assert.Equal(t, 1, sim.ActiveCount())
	assert.NotZero(t, other.Body())
}

func TestDestroyEntityWhileStepping(t *testing.T) {
	w, sim, pw := newPhysicsWorld(t)
	ball := body(w, "ball", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 10, 0))
	other := body(w, "other", ecs.BodyTypeDynamic, ecs.ShapeSphere, geom.V3(0, 20, 0))
	pw.Begin()

	pw.Tick(step)
	w.DestroyEntity(ball)
	assert.Equal(t, 1, pw.BodyCount())

	pw.WaitForSimulation()
	assert.Equal(t, 1, sim.BodyCount())
	assert.Less(t, other.Position().Y, float32(20))
}

func TestCastRay(t *testing.T) {
	w, _, pw := newPhysicsWorld(t)
	box := body(w, "box", ecs.BodyTypeStatic, ecs.ShapeBox, geom.V3(0, 0, -5))
	sphere := body(w, "sphere", ecs.BodyTypeStatic, ecs.ShapeSphere, geom.V3(0, 0, -10))
	sphere.Physics.Radius = 1
	body(w, "ground", ecs.BodyTypeStatic, ecs.ShapePlane, geom.V3(0, -1, 0))
	pw.Begin()

	hit, ok := pw.CastRay(geom.Zero3, geom.Forward, 100)
	require.True(t, ok)
	assert.Same(t, box, hit.Entity)
	assert.InDelta(t, 4.5, hit.Distance, 1e-5)
	assert.True(t, hit.Normal.ApproxEqual(geom.V3(0, 0, 1), 1e-5))
	assert.True(t, hit.Point.ApproxEqual(geom.V3(0, 0, -4.5), 1e-5))

	all := pw.CastRayAll(geom.Zero3, geom.Forward, 100)
	require.Len(t, all, 2)
	assert.Same(t, box, all[0].Entity)
	assert.Same(t, sphere, all[1].Entity)
	assert.InDelta(t, 9, all[1].Distance, 1e-5)

	d, ok := pw.CastRayFast(geom.Zero3, geom.Forward, 100)
	require.True(t, ok)
	assert.InDelta(t, 4.5, d, 1e-5)

	_, ok = pw.CastRay(geom.Zero3, geom.Forward, 3)
	assert.False(t, ok, "beyond max distance")

	down, ok := pw.CastRay(geom.V3(0, 5, 0), geom.V3(0, -2, 0), 0)
	require.True(t, ok, "zero max distance falls back to the default")
	assert.InDelta(t, 6, down.Distance, 1e-5)
	assert.True(t, down.Normal.ApproxEqual(geom.Up, 1e-5))
}

func TestShapeFor(t *testing.T) {
	settings := ecs.DefaultPhysicsSettings

	box := physics.ShapeFor(settings, geom.V3(2, 4, 1))
	assert.Equal(t, physics.BoxShape{Extents: geom.V3(1, 2, 0.5)}, box)

	settings.Shape = ecs.ShapeCapsule
	settings.Height = 3
	settings.Radius = 0.25
	assert.Equal(t, physics.CapsuleShape{HalfHeight: 1.5, Radius: 0.25}, physics.ShapeFor(settings, geom.One3))

	settings.Shape = ecs.ShapeCylinder
	assert.Equal(t, physics.CylinderShape{HalfHeight: 1.5, Radius: 0.25}, physics.ShapeFor(settings, geom.One3))

	settings.Shape = ecs.ShapeSphere
	assert.Equal(t, physics.SphereShape{Radius: 0.25}, physics.ShapeFor(settings, geom.One3))

	settings.Shape = ecs.ShapePlane
	assert.Equal(t, physics.PlaneShape{Normal: geom.Up}, physics.ShapeFor(settings, geom.One3))

	settings.Shape = ecs.ShapeType(42)
	assert.Nil(t, physics.ShapeFor(settings, geom.One3))
}

func TestMotionFor(t *testing.T) {
	assert.Equal(t, physics.MotionStatic, physics.MotionFor(ecs.BodyTypeStatic))
	assert.Equal(t, physics.MotionKinematic, physics.MotionFor(ecs.BodyTypeKinematic))
	assert.Equal(t, physics.MotionDynamic, physics.MotionFor(ecs.BodyTypeDynamic))
}

func TestKinematicSimulatorRejectsNilShape(t *testing.T) {
	sim := physics.NewKinematicSimulator(geom.Zero3)
	_, err := sim.CreateBody(physics.BodyDesc{})
	assert.ErrorIs(t, err, physics.ErrNilShape)
}
