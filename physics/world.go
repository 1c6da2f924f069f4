// Package physics keeps a rigid body simulation in step with an ecs.World.
// The World owns the body of every entity whose PhysicsSettings ask for one,
// advances the simulator on a fixed step in the background while the entity
// world ticks, and copies simulated transforms back when joined.
package physics

import (
	"fmt"
	"slices"

	"github.com/kamstrup/intmap"
	"go.uber.org/zap"

	"github.com/plus3/lumen/ecs"
	"github.com/plus3/lumen/geom"
)

// AccumulatorMode decides what happens to the time left over after a step.
type AccumulatorMode uint8

const (
	// ResetAccumulator drops the remainder after each step.
	ResetAccumulator AccumulatorMode = iota
	// CarryAccumulator keeps the remainder, capped at one step.
	CarryAccumulator
)

func (m AccumulatorMode) String() string {
	if m == CarryAccumulator {
		return "carry"
	}
	return "reset"
}

// ParseAccumulatorMode accepts "reset" and "carry". Anything else is reset.
func ParseAccumulatorMode(s string) AccumulatorMode {
	if s == "carry" {
		return CarryAccumulator
	}
	return ResetAccumulator
}

// Listener is told around every simulated step. OnPrePhysicsTick runs on the
// ticking goroutine before the step starts; OnPostPhysicsTick runs after the
// step joined and transforms were written back.
type Listener interface {
	OnPrePhysicsTick(dt float64)
	OnPostPhysicsTick(dt float64)
}

// RayHit is a ray intersection resolved to its entity.
type RayHit struct {
	Entity   *ecs.Entity
	Point    geom.Vec3
	Normal   geom.Vec3
	Distance float32
}

type Option func(*World)

// WithFixedStep overrides the step length taken from the world's
// simulation settings.
func WithFixedStep(dt float64) Option {
	return func(w *World) {
		if dt > 0 {
			w.step = dt
		}
	}
}

func WithAccumulatorMode(mode AccumulatorMode) Option {
	return func(w *World) { w.mode = mode }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRayMaxDistance sets the distance used by ray casts given maxDist <= 0.
func WithRayMaxDistance(d float32) Option {
	return func(w *World) { w.rayMax = d }
}

// World drives a Simulator from an ecs.World. It implements
// ecs.PhysicsRunner and attaches itself on construction.
type World struct {
	world  *ecs.World
	sim    Simulator
	logger *zap.Logger

	step        float64
	mode        AccumulatorMode
	accumulator float64
	rayMax      float32

	begun     bool
	simulated bool
	inFlight  bool
	done      chan struct{}

	// order keeps bodies in creation order; owners maps them back to entities.
	order  []BodyID
	owners *intmap.Map[BodyID, ecs.EntityId]
	motion *intmap.Map[BodyID, MotionType]
	doomed []BodyID

	listeners []Listener
}

var _ ecs.PhysicsRunner = (*World)(nil)

// NewWorld creates the physics world for w and registers it with w.
func NewWorld(w *ecs.World, sim Simulator, opts ...Option) *World {
	pw := &World{
		world:  w,
		sim:    sim,
		logger: zap.NewNop(),
		step:   w.SimulationSettings().FixedStep(),
		rayMax: 1000,
		owners: intmap.New[BodyID, ecs.EntityId](64),
		motion: intmap.New[BodyID, MotionType](64),
	}
	for _, opt := range opts {
		opt(pw)
	}
	w.SetPhysics(pw)
	return pw
}

func (w *World) Simulator() Simulator   { return w.sim }
func (w *World) FixedStep() float64     { return w.step }
func (w *World) Mode() AccumulatorMode  { return w.mode }
func (w *World) Accumulator() float64   { return w.accumulator }
func (w *World) Simulated() bool        { return w.simulated }
func (w *World) Running() bool          { return w.begun }
func (w *World) BodyCount() int         { return len(w.order) }
func (w *World) AddListener(l Listener) { w.listeners = append(w.listeners, l) }

func (w *World) RemoveListener(l Listener) {
	w.listeners = slices.DeleteFunc(w.listeners, func(o Listener) bool { return o == l })
}

// Alpha is the fraction of a step accumulated since the last one, in [0, 1].
func (w *World) Alpha() float32 {
	if w.step <= 0 {
		return 1
	}
	return geom.Clamp01(float32(w.accumulator / w.step))
}

// EntityForBody returns the entity owning id, or nil.
func (w *World) EntityForBody(id BodyID) *ecs.Entity {
	owner, ok := w.owners.Get(id)
	if !ok {
		return nil
	}
	return w.world.Entity(owner)
}

// Begin creates and adds the bodies of every entity that wants one. Calling
// it again only picks up entities that gained a body type since.
func (w *World) Begin() {
	w.EnsureBodies()
	if !w.begun {
		w.begun = true
		w.accumulator = 0
		w.simulated = false
		w.logger.Debug("physics begin", zap.Int("bodies", len(w.order)), zap.Float64("step", w.step), zap.Stringer("mode", w.mode))
	}
}

// EnsureBodies reconciles bodies with entity settings: entities set to
// BodyTypeNone lose their body and entities without one get one. New bodies
// are added to the simulation with a single batch.
func (w *World) EnsureBodies() {
	w.join()

	var created []BodyID
	var stale []*ecs.Entity
	for e := range w.world.Entities() {
		if e.Physics.BodyType == ecs.BodyTypeNone {
			if e.Body() != 0 {
				stale = append(stale, e)
			}
			continue
		}
		if e.Body() != 0 {
			continue
		}
		if id := w.createBody(e); id != 0 {
			created = append(created, id)
		}
	}
	for _, e := range stale {
		w.DestroyBody(e)
	}
	if len(created) > 0 {
		w.sim.AddBodies(created)
	}
}

func (w *World) createBody(e *ecs.Entity) BodyID {
	if e.Body() != 0 {
		panic(fmt.Sprintf("physics: entity %q already has a body", e.Name()))
	}

	t := e.Transform()
	shape := ShapeFor(e.Physics, t.Scale)
	if shape == nil {
		panic(fmt.Sprintf("physics: entity %q has unrecognized collision shape %v", e.Name(), e.Physics.Shape))
	}

	motion := MotionFor(e.Physics.BodyType)
	layer := LayerMoving
	if motion == MotionStatic {
		layer = LayerNonMoving
	}
	id, err := w.sim.CreateBody(BodyDesc{
		Shape:         shape,
		Position:      t.Position,
		Rotation:      t.Rotation,
		Motion:        motion,
		Layer:         layer,
		Mass:          e.Physics.Mass,
		Friction:      e.Physics.Friction,
		Restitution:   e.Physics.Restitution,
		GravityFactor: e.Physics.Gravity,
		UserData:      uint64(e.ID()),
	})
	if err != nil {
		w.logger.Error("failed to create body", zap.String("entity", e.Name()), zap.Error(err))
		return 0
	}

	e.SetBody(ecs.BodyHandle(id))
	w.order = append(w.order, id)
	w.owners.Put(id, e.ID())
	w.motion.Put(id, motion)
	return id
}

// End removes every body from the simulation in one batch and destroys them.
func (w *World) End() {
	w.join()
	w.destroyDoomed()

	if len(w.order) > 0 {
		w.sim.RemoveBodies(w.order)
		for _, id := range w.order {
			w.sim.DestroyBody(id)
			if owner, ok := w.owners.Get(id); ok {
				if e := w.world.Entity(owner); e != nil {
					e.SetBody(0)
				}
			}
			w.owners.Del(id)
			w.motion.Del(id)
		}
	}
	w.logger.Debug("physics end", zap.Int("bodies", len(w.order)))

	w.order = nil
	w.begun = false
	w.simulated = false
	w.accumulator = 0
}

// DestroyBody releases the body of e. While a step is running the simulator
// is left alone until WaitForSimulation joins it.
func (w *World) DestroyBody(e *ecs.Entity) {
	id := BodyID(e.Body())
	if id == 0 {
		return
	}
	e.SetBody(0)
	w.order = slices.DeleteFunc(w.order, func(o BodyID) bool { return o == id })
	w.owners.Del(id)
	w.motion.Del(id)

	w.doomed = append(w.doomed, id)
	if !w.inFlight {
		w.destroyDoomed()
	}
}

func (w *World) destroyDoomed() {
	if len(w.doomed) == 0 {
		return
	}
	w.sim.RemoveBodies(w.doomed)
	for _, id := range w.doomed {
		w.sim.DestroyBody(id)
	}
	w.doomed = w.doomed[:0]
}

// Tick accumulates delta and, once a full step is available, starts that
// step in the background. At most one step is taken per call.
func (w *World) Tick(delta float64) {
	if !w.begun {
		w.simulated = false
		return
	}
	w.join()

	w.accumulator += delta
	if w.accumulator < w.step {
		w.simulated = false
		return
	}

	switch w.mode {
	case CarryAccumulator:
		w.accumulator -= w.step
		if w.accumulator > w.step {
			w.accumulator = w.step
		}
	default:
		w.accumulator = 0
	}

	for _, l := range w.listeners {
		l.OnPrePhysicsTick(w.step)
	}
	w.pushKinematic()

	w.simulated = true
	w.inFlight = true
	w.done = make(chan struct{})
	go func(done chan struct{}, dt float32) {
		defer close(done)
		w.sim.Step(dt)
	}(w.done, float32(w.step))
}

// pushKinematic moves kinematic bodies to where gameplay put their entities.
func (w *World) pushKinematic() {
	for _, id := range w.order {
		if m, _ := w.motion.Get(id); m != MotionKinematic {
			continue
		}
		if e := w.EntityForBody(id); e != nil {
			t := e.Transform()
			w.sim.SetBodyTransform(id, t.Position, t.Rotation)
		}
	}
}

func (w *World) join() {
	if !w.inFlight {
		return
	}
	<-w.done
	w.inFlight = false
}

// WaitForSimulation blocks until the step started by Tick is done, then
// writes dynamic body transforms into their entities. It does nothing when
// the last Tick did not step.
func (w *World) WaitForSimulation() {
	if !w.simulated {
		return
	}
	w.join()
	w.destroyDoomed()

	for _, id := range w.order {
		if m, _ := w.motion.Get(id); m != MotionDynamic {
			continue
		}
		e := w.EntityForBody(id)
		if e == nil {
			continue
		}
		pos, rot := w.sim.BodyTransform(id)
		t := e.Transform()
		t.Position = pos
		t.Rotation = rot
		e.SetSimulatedTransform(t)
	}

	for _, l := range w.listeners {
		l.OnPostPhysicsTick(w.step)
	}
}

func (w *World) rayDistance(maxDist float32) float32 {
	if maxDist <= 0 {
		return w.rayMax
	}
	return maxDist
}

func (w *World) resolve(r RayResult) (RayHit, bool) {
	e := w.EntityForBody(r.Body)
	if e == nil {
		return RayHit{}, false
	}
	return RayHit{Entity: e, Point: r.Point, Normal: r.Normal, Distance: r.Distance}, true
}

// CastRay returns the closest body hit along dir from origin.
func (w *World) CastRay(origin, dir geom.Vec3, maxDist float32) (RayHit, bool) {
	w.join()
	r, ok := w.sim.CastRay(origin, dir.Normalize(), w.rayDistance(maxDist))
	if !ok {
		return RayHit{}, false
	}
	return w.resolve(r)
}

// CastRayAll returns every hit along the ray ordered by distance.
func (w *World) CastRayAll(origin, dir geom.Vec3, maxDist float32) []RayHit {
	w.join()
	results := w.sim.CastRayAll(origin, dir.Normalize(), w.rayDistance(maxDist))
	hits := make([]RayHit, 0, len(results))
	for _, r := range results {
		if hit, ok := w.resolve(r); ok {
			hits = append(hits, hit)
		}
	}
	slices.SortStableFunc(hits, func(a, b RayHit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return hits
}

// CastRayFast only reports the distance to the closest hit.
func (w *World) CastRayFast(origin, dir geom.Vec3, maxDist float32) (float32, bool) {
	w.join()
	r, ok := w.sim.CastRay(origin, dir.Normalize(), w.rayDistance(maxDist))
	return r.Distance, ok
}
