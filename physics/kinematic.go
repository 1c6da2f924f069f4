package physics

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chewxy/math32"
	"github.com/kamstrup/intmap"

	"github.com/plus3/lumen/geom"
)

// AngMotionMax is the largest rotation a body takes in one step.
const AngMotionMax = math32.Pi / 4

type kinematicBody struct {
	id     BodyID
	desc   BodyDesc
	pos    geom.Vec3
	rot    geom.Quat
	linVel geom.Vec3
	angVel geom.Vec3
	added  bool
}

// KinematicSimulator is a small in-process Simulator. Dynamic bodies fall
// under gravity with semi-implicit Euler integration and rest on any static
// plane. There is no body to body collision.
type KinematicSimulator struct {
	mu      sync.RWMutex
	gravity geom.Vec3
	nextID  BodyID
	bodies  *intmap.Map[BodyID, *kinematicBody]
	active  []*kinematicBody
	steps   int
}

var _ Simulator = (*KinematicSimulator)(nil)

func NewKinematicSimulator(gravity geom.Vec3) *KinematicSimulator {
	return &KinematicSimulator{
		gravity: gravity,
		bodies:  intmap.New[BodyID, *kinematicBody](64),
	}
}

func (s *KinematicSimulator) CreateBody(desc BodyDesc) (BodyID, error) {
	if desc.Shape == nil {
		return 0, ErrNilShape
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	b := &kinematicBody{id: s.nextID, desc: desc, pos: desc.Position, rot: desc.Rotation}
	if b.rot == (geom.Quat{}) {
		b.rot = geom.IdentityQuat
	}
	s.bodies.Put(b.id, b)
	return b.id, nil
}

func (s *KinematicSimulator) DestroyBody(id BodyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bodies.Get(id); ok && b.added {
		panic(fmt.Sprintf("physics: body %d destroyed while still in the simulation", id))
	}
	s.bodies.Del(id)
}

func (s *KinematicSimulator) AddBodies(ids []BodyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if b, ok := s.bodies.Get(id); ok && !b.added {
			b.added = true
			s.active = append(s.active, b)
		}
	}
}

func (s *KinematicSimulator) RemoveBodies(ids []BodyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if b, ok := s.bodies.Get(id); ok {
			b.added = false
		}
	}
	s.active = slices.DeleteFunc(s.active, func(b *kinematicBody) bool { return !b.added })
}

// BodyCount is the number of created bodies, added or not.
func (s *KinematicSimulator) BodyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bodies.Len()
}

// ActiveCount is the number of bodies added to the simulation.
func (s *KinematicSimulator) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Steps is the number of Step calls so far.
func (s *KinematicSimulator) Steps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps
}

func (s *KinematicSimulator) BodyTransform(id BodyID) (geom.Vec3, geom.Quat) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bodies.Get(id)
	if !ok {
		return geom.Zero3, geom.IdentityQuat
	}
	return b.pos, b.rot
}

func (s *KinematicSimulator) SetBodyTransform(id BodyID, pos geom.Vec3, rot geom.Quat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bodies.Get(id); ok {
		b.pos, b.rot = pos, rot
	}
}

func (s *KinematicSimulator) SetVelocity(id BodyID, linear, angular geom.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bodies.Get(id); ok {
		b.linVel, b.angVel = linear, angular
	}
}

func (s *KinematicSimulator) Velocity(id BodyID) (linear, angular geom.Vec3) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.bodies.Get(id); ok {
		return b.linVel, b.angVel
	}
	return geom.Zero3, geom.Zero3
}

// Step advances every dynamic body by dt seconds.
func (s *KinematicSimulator) Step(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++

	for _, b := range s.active {
		if b.desc.Motion != MotionDynamic {
			continue
		}
		b.linVel = b.linVel.Add(s.gravity.Scale(b.desc.GravityFactor * dt))
		b.pos = b.pos.Add(b.linVel.Scale(dt))
		b.stepRotation(dt)
		s.resolvePlanes(b)
	}
}

func (b *kinematicBody) stepRotation(dt float32) {
	ang := b.angVel.Length()
	if ang < 1e-6 {
		return
	}
	if ang*dt > AngMotionMax {
		ang = AngMotionMax / dt
	}
	dq := geom.QuatFromAxisAngle(b.angVel, ang*dt)
	b.rot = dq.Mul(b.rot).Normalize()
}

// resolvePlanes pushes b out of every static plane it sank into and removes
// the velocity into the plane, scaled by restitution.
func (s *KinematicSimulator) resolvePlanes(b *kinematicBody) {
	for _, p := range s.active {
		plane, ok := p.desc.Shape.(PlaneShape)
		if !ok || p.desc.Motion != MotionStatic {
			continue
		}
		n := p.rot.Rotate(plane.Normal).Normalize()
		depth := b.pos.Sub(p.pos).Dot(n) - b.desc.Shape.Support(n)
		if depth >= 0 {
			continue
		}
		b.pos = b.pos.Sub(n.Scale(depth))
		if vn := b.linVel.Dot(n); vn < 0 {
			b.linVel = b.linVel.Sub(n.Scale(vn * (1 + b.desc.Restitution)))
			tangent := b.linVel.Sub(n.Scale(b.linVel.Dot(n)))
			b.linVel = b.linVel.Sub(tangent.Scale(geom.Clamp01(b.desc.Friction)))
		}
	}
}

// CastRay returns the closest body hit along the unit direction dir.
func (s *KinematicSimulator) CastRay(origin, dir geom.Vec3, maxDist float32) (RayResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best RayResult
	found := false
	for _, b := range s.active {
		if r, ok := b.intersect(origin, dir, maxDist); ok && (!found || r.Distance < best.Distance) {
			best, found = r, true
		}
	}
	return best, found
}

// CastRayAll returns every body hit along dir, in body order.
func (s *KinematicSimulator) CastRayAll(origin, dir geom.Vec3, maxDist float32) []RayResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []RayResult
	for _, b := range s.active {
		if r, ok := b.intersect(origin, dir, maxDist); ok {
			results = append(results, r)
		}
	}
	return results
}

func (b *kinematicBody) intersect(origin, dir geom.Vec3, maxDist float32) (RayResult, bool) {
	var t float32
	var normal geom.Vec3
	var ok bool

	switch shape := b.desc.Shape.(type) {
	case SphereShape:
		t, normal, ok = raySphere(origin, dir, b.pos, shape.Radius)
	case PlaneShape:
		n := b.rot.Rotate(shape.Normal).Normalize()
		t, normal, ok = rayPlane(origin, dir, b.pos, n)
	default:
		// boxes, capsules and cylinders are tested against their local box
		inv := b.rot.Conjugate()
		lo := inv.Rotate(origin.Sub(b.pos))
		ld := inv.Rotate(dir)
		var ln geom.Vec3
		t, ln, ok = rayBox(lo, ld, shape.HalfExtents())
		normal = b.rot.Rotate(ln)
	}
	if !ok || t > maxDist {
		return RayResult{}, false
	}
	return RayResult{Body: b.id, Point: origin.Add(dir.Scale(t)), Normal: normal, Distance: t}, true
}

func raySphere(origin, dir, center geom.Vec3, radius float32) (float32, geom.Vec3, bool) {
	oc := origin.Sub(center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, geom.Vec3{}, false
	}
	sq := math32.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, geom.Vec3{}, false
	}
	return t, origin.Add(dir.Scale(t)).Sub(center).Normalize(), true
}

func rayPlane(origin, dir, point, n geom.Vec3) (float32, geom.Vec3, bool) {
	denom := dir.Dot(n)
	if math32.Abs(denom) < 1e-6 {
		return 0, geom.Vec3{}, false
	}
	t := point.Sub(origin).Dot(n) / denom
	if t < 0 {
		return 0, geom.Vec3{}, false
	}
	if denom > 0 {
		n = n.Negate()
	}
	return t, n, true
}

// rayBox is the slab test against a box centered on the origin.
func rayBox(origin, dir, half geom.Vec3) (float32, geom.Vec3, bool) {
	o := [3]float32{origin.X, origin.Y, origin.Z}
	d := [3]float32{dir.X, dir.Y, dir.Z}
	h := [3]float32{half.X, half.Y, half.Z}

	tmin, tmax := float32(0), math32.Inf(1)
	axis, sign := -1, float32(0)
	for i := 0; i < 3; i++ {
		if math32.Abs(d[i]) < 1e-8 {
			if o[i] < -h[i] || o[i] > h[i] {
				return 0, geom.Vec3{}, false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (-h[i] - o[i]) * inv
		t2 := (h[i] - o[i]) * inv
		s := float32(-1)
		if t1 > t2 {
			t1, t2 = t2, t1
			s = 1
		}
		if t1 > tmin {
			tmin, axis, sign = t1, i, s
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, geom.Vec3{}, false
		}
	}

	var n [3]float32
	if axis >= 0 {
		n[axis] = sign
	}
	return tmin, geom.V3(n[0], n[1], n[2]), true
}
